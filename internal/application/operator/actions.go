// Package operator 负责校验并应用经用户确认的 LLM 编辑
package operator

import (
	"encoding/json"
	"strings"
)

// ActionType 编辑动作类型（封闭枚举）
type ActionType string

const (
	ActionUpdateShot     ActionType = "update_shot"
	ActionUpdateElement  ActionType = "update_element"
	ActionUpdateBrief    ActionType = "update_brief"
	ActionRegenerateShot ActionType = "regenerate_shot_frame"
)

// Action 单条编辑动作
type Action struct {
	Type        ActionType     `json:"type"`
	ShotID      string         `json:"shot_id,omitempty"`
	ElementID   string         `json:"element_id,omitempty"`
	Patch       map[string]any `json:"patch,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	VisualStyle string         `json:"visualStyle,omitempty"`
}

// TargetID 返回动作指向的目标 ID（update_brief 无目标）
func (a *Action) TargetID() string {
	if a.ShotID != "" {
		return a.ShotID
	}
	return a.ElementID
}

// EditKind 编辑载荷类型
type EditKind string

const (
	EditKindActions EditKind = "actions"
	EditKindPatch   EditKind = "patch"
)

// Edit 经确认的编辑载荷
type Edit struct {
	Kind    EditKind       `json:"kind"`
	Actions []*Action      `json:"actions,omitempty"`
	Patch   map[string]any `json:"patch,omitempty"`

	// FromChat 表示编辑来自聊天校验路径，启用最小范围规则
	FromChat bool `json:"-"`
	// UserMessage 原始用户消息，用于意图关键词判定
	UserMessage string `json:"-"`
}

// ParseActions 从 JSON 数组解析动作列表
func ParseActions(raw json.RawMessage) ([]*Action, error) {
	var actions []*Action
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// actionPriority 应用顺序：简报 -> 元素 -> 分镜 -> 重新生成
func actionPriority(t ActionType) int {
	switch t {
	case ActionUpdateBrief:
		return 0
	case ActionUpdateElement:
		return 1
	case ActionUpdateShot:
		return 2
	case ActionRegenerateShot:
		return 3
	default:
		return 9
	}
}

// shotPatchKeys update_shot 允许的 patch 键
var shotPatchKeys = map[string]struct{}{
	"prompt":          {},
	"video_prompt":    {},
	"description":     {},
	"narration":       {},
	"dialogue_script": {},
	"duration":        {},
}

// elementPatchKeys update_element 允许的 patch 键
var elementPatchKeys = map[string]struct{}{
	"description":   {},
	"voice_profile": {},
}

// briefKeyAliases 简报键名归一化到 camelCase
var briefKeyAliases = map[string]string{
	"title":                   "title",
	"videotype":               "videoType",
	"video_type":              "videoType",
	"narrativedriver":         "narrativeDriver",
	"narrative_driver":        "narrativeDriver",
	"emotionaltone":           "emotionalTone",
	"emotional_tone":          "emotionalTone",
	"visualstyle":             "visualStyle",
	"visual_style":            "visualStyle",
	"duration":                "duration",
	"aspectratio":             "aspectRatio",
	"aspect_ratio":            "aspectRatio",
	"language":                "language",
	"narratorvoiceprofile":    "narratorVoiceProfile",
	"narrator_voice_profile":  "narratorVoiceProfile",
	"targetdurationseconds":   "targetDurationSeconds",
	"target_duration_seconds": "targetDurationSeconds",
	"ttsspeedratio":           "ttsSpeedRatio",
	"tts_speed_ratio":         "ttsSpeedRatio",
	"audioworkflowpreference": "audioWorkflowPreference",
	"audio_workflow_preference": "audioWorkflowPreference",
}

// CanonicalBriefKey 归一化简报键名；未识别键返回空
func CanonicalBriefKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	return briefKeyAliases[k]
}
