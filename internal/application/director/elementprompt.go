package director

import (
	"context"
	"strings"

	"storyboard-agent-api/internal/domain/entity"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
)

// ElementImagePrompt 为元素生成优化后的文生图提示词与负面提示词。
// LLM 不可用或解析失败时回落到原始描述 + 风格拼接，保证流水线不被阻断。
func (d *Director) ElementImagePrompt(ctx context.Context, el *entity.Element, style string) (prompt, negative string) {
	fallback := fallbackElementPrompt(el, style)
	if d == nil || d.factory == nil || el == nil {
		return fallback, ""
	}

	vars := map[string]any{
		"name":        el.Name,
		"type":        string(el.Type),
		"description": el.Description,
		"style":       strings.TrimSpace(style),
	}
	var contract struct {
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt"`
	}
	if _, err := d.callJSON(ctx, "", "", "element_prompt",
		workflowprompt.PromptElementImageV1, vars, &contract, nil); err != nil {
		return fallback, ""
	}
	if strings.TrimSpace(contract.Prompt) == "" {
		return fallback, strings.TrimSpace(contract.NegativePrompt)
	}
	return strings.TrimSpace(contract.Prompt), strings.TrimSpace(contract.NegativePrompt)
}

func fallbackElementPrompt(el *entity.Element, style string) string {
	if el == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if el.Prompt != "" {
		parts = append(parts, el.Prompt)
	} else {
		if el.Name != "" {
			parts = append(parts, el.Name)
		}
		if el.Description != "" {
			parts = append(parts, el.Description)
		}
	}
	if s := strings.TrimSpace(style); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
