package dto

import (
	"encoding/json"
	"time"

	"storyboard-agent-api/internal/domain/entity"
)

// PlanRequest 分镜规划请求
type PlanRequest struct {
	UserRequest string   `json:"user_request" binding:"required"`
	ProjectName string   `json:"project_name,omitempty"`
	Style       string   `json:"style,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ChatRequest 项目内聊天请求
type ChatRequest struct {
	Message     string   `json:"message" binding:"required"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ApplyEditRequest 经用户确认的编辑载荷
type ApplyEditRequest struct {
	Kind        string          `json:"kind" binding:"required"` // actions | patch
	Actions     json.RawMessage `json:"actions,omitempty"`
	Patch       map[string]any  `json:"patch,omitempty"`
	UserMessage string          `json:"user_message,omitempty"`
	FromChat    bool            `json:"from_chat,omitempty"`
}

// ReviseRequest 剧本医生/资产补全/拆分画面差异化请求
type ReviseRequest struct {
	Focus       string   `json:"focus,omitempty"`
	ParentShot  string   `json:"parent_shot,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ElementsStageRequest 元素图阶段请求
type ElementsStageRequest struct {
	Overwrite  bool     `json:"overwrite,omitempty"`
	ElementIDs []string `json:"element_ids,omitempty"`
}

// FramesStageRequest 起始帧阶段请求
type FramesStageRequest struct {
	Mode           string   `json:"mode,omitempty"` // missing | regenerate
	ShotIDs        []string `json:"shot_ids,omitempty"`
	ExcludeShotIDs []string `json:"exclude_shot_ids,omitempty"`
	VisualStyle    string   `json:"visual_style,omitempty"`
}

// VideosStageRequest 视频阶段请求
type VideosStageRequest struct {
	ShotIDs []string `json:"shot_ids,omitempty"`
	Wait    bool     `json:"wait,omitempty"` // 同步等待轮询完成
}

// TTSStageRequest 语音合成阶段请求
type TTSStageRequest struct {
	ShotIDs          []string `json:"shot_ids,omitempty"`
	Overwrite        bool     `json:"overwrite,omitempty"`
	IncludeNarration *bool    `json:"include_narration,omitempty"`
	IncludeDialogue  *bool    `json:"include_dialogue,omitempty"`
}

// TimelineApplyRequest 时间轴应用请求
type TimelineApplyRequest struct {
	Timeline    *entity.AudioTimeline `json:"timeline" binding:"required"`
	ResetVideos bool                  `json:"reset_videos,omitempty"`
	Confirm     bool                  `json:"confirm,omitempty"`
}

// ProjectSummary 项目列表视图
type ProjectSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Shots     int       `json:"shots"`
	Elements  int       `json:"elements"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProjectSummary 从实体构建列表视图
func NewProjectSummary(p *entity.AgentProject) ProjectSummary {
	return ProjectSummary{
		ID:        p.ID,
		Name:      p.Name,
		Shots:     len(p.AllShots()),
		Elements:  len(p.Elements),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
