// Package repository 定义仓储接口
package repository

import (
	"context"

	"storyboard-agent-api/internal/domain/entity"
)

// AgentProjectRepository 项目快照仓储。
// 快照作为不透明层级文档整体读写；单写者，不支持跨请求并发写同一项目。
type AgentProjectRepository interface {
	// Create 持久化新项目
	Create(ctx context.Context, project *entity.AgentProject) error
	// GetByID 按 ID 加载项目快照；不存在时返回 nil, nil
	GetByID(ctx context.Context, id string) (*entity.AgentProject, error)
	// Save 覆盖写整个项目快照
	Save(ctx context.Context, project *entity.AgentProject) error
	// List 按更新时间倒序列出项目摘要
	List(ctx context.Context, limit, offset int) ([]*entity.AgentProject, error)
	// Delete 硬删除（显式操作）
	Delete(ctx context.Context, id string) error
}

// PromptTemplateStore 提示词模板读取接口（模板由外部维护，只读）
type PromptTemplateStore interface {
	Get(ctx context.Context, name string) (string, error)
}
