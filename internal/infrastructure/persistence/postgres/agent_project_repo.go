// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"storyboard-agent-api/internal/domain/entity"
)

// AgentProjectRepository 项目快照仓储实现。
// 快照整体存为一列 JSONB，结构演进不需要迁移。
type AgentProjectRepository struct {
	client *Client
}

// NewAgentProjectRepository 创建项目仓储
func NewAgentProjectRepository(client *Client) *AgentProjectRepository {
	return &AgentProjectRepository{client: client}
}

// Create 创建项目
func (r *AgentProjectRepository) Create(ctx context.Context, project *entity.AgentProject) error {
	ctx, span := tracer.Start(ctx, "postgres.AgentProjectRepository.Create")
	defer span.End()

	doc, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}

	query := `
		INSERT INTO agent_projects (id, name, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.client.db.ExecContext(ctx, query,
		project.ID, project.Name, doc, project.CreatedAt, project.UpdatedAt,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取项目快照；不存在时返回 nil, nil
func (r *AgentProjectRepository) GetByID(ctx context.Context, id string) (*entity.AgentProject, error) {
	ctx, span := tracer.Start(ctx, "postgres.AgentProjectRepository.GetByID")
	defer span.End()

	var doc []byte
	err := r.client.db.QueryRowContext(ctx,
		`SELECT doc FROM agent_projects WHERE id = $1`, id,
	).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	var project entity.AgentProject
	if err := json.Unmarshal(doc, &project); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	if project.Elements == nil {
		project.Elements = make(map[string]*entity.Element)
	}
	return &project, nil
}

// Save 覆盖写整个项目快照
func (r *AgentProjectRepository) Save(ctx context.Context, project *entity.AgentProject) error {
	ctx, span := tracer.Start(ctx, "postgres.AgentProjectRepository.Save")
	defer span.End()

	doc, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}

	query := `
		INSERT INTO agent_projects (id, name, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.client.db.ExecContext(ctx, query,
		project.ID, project.Name, doc, project.CreatedAt, project.UpdatedAt,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// List 按更新时间倒序列出项目
func (r *AgentProjectRepository) List(ctx context.Context, limit, offset int) ([]*entity.AgentProject, error) {
	ctx, span := tracer.Start(ctx, "postgres.AgentProjectRepository.List")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := r.client.db.QueryContext(ctx,
		`SELECT doc FROM agent_projects ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*entity.AgentProject
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		var project entity.AgentProject
		if err := json.Unmarshal(doc, &project); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to unmarshal project: %w", err)
		}
		projects = append(projects, &project)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// Delete 硬删除项目
func (r *AgentProjectRepository) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.AgentProjectRepository.Delete")
	defer span.End()

	if _, err := r.client.db.ExecContext(ctx,
		`DELETE FROM agent_projects WHERE id = $1`, id,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}
