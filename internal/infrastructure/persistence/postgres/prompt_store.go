package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// PromptTemplateStore 提示词模板覆盖存储。
// 内嵌模板是默认值，运营可在库里按名字覆盖；查不到返回空串。
type PromptTemplateStore struct {
	client *Client
}

// NewPromptTemplateStore 创建模板存储
func NewPromptTemplateStore(client *Client) *PromptTemplateStore {
	return &PromptTemplateStore{client: client}
}

// Get 按名字读取模板内容
func (s *PromptTemplateStore) Get(ctx context.Context, name string) (string, error) {
	ctx, span := tracer.Start(ctx, "postgres.PromptTemplateStore.Get")
	defer span.End()

	var content string
	err := s.client.db.QueryRowContext(ctx,
		`SELECT content FROM prompt_templates WHERE name = $1`, name,
	).Scan(&content)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		span.RecordError(err)
		return "", fmt.Errorf("failed to get prompt template: %w", err)
	}
	return content, nil
}
