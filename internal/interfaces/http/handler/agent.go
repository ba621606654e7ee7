package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/operator"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/domain/repository"
	"storyboard-agent-api/internal/interfaces/http/dto"
	"storyboard-agent-api/pkg/logger"
)

// AgentHandler 规划、聊天与 LLM 修订处理器
type AgentHandler struct {
	director *director.Director
	operator *operator.Operator
	repo     repository.AgentProjectRepository
}

// NewAgentHandler 创建处理器
func NewAgentHandler(d *director.Director, op *operator.Operator, repo repository.AgentProjectRepository) *AgentHandler {
	return &AgentHandler{director: d, operator: op, repo: repo}
}

// PlanResponse 规划响应
type PlanResponse struct {
	Success   bool                        `json:"success"`
	ProjectID string                      `json:"project_id,omitempty"`
	Project   *entity.AgentProject        `json:"project,omitempty"`
	Post      *director.PostprocessResult `json:"post,omitempty"`
	Error     string                      `json:"error,omitempty"`
	Raw       string                      `json:"raw,omitempty"`
}

// Plan 按用户需求生成分镜规划并创建项目
func (h *AgentHandler) Plan(c *gin.Context) {
	var req dto.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid plan request: "+err.Error())
		return
	}

	out, err := h.director.GeneratePlan(c.Request.Context(), &director.PlanInput{
		UserRequest: req.UserRequest,
		Style:       req.Style,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		dto.FromError(c, err)
		return
	}
	if !out.Success {
		// 模型输出不可解析属于业务失败，照实返回给前端重试
		dto.Success(c, PlanResponse{Success: false, Error: out.Error, Raw: out.Raw})
		return
	}

	project := projectFromPlan(req.ProjectName, out.Plan)
	if err := h.repo.Create(c.Request.Context(), project); err != nil {
		dto.FromError(c, err)
		return
	}

	logger.Info(c.Request.Context(), "project created from plan",
		"project_id", project.ID,
		"segments", len(project.Segments),
		"elements", len(project.Elements),
	)
	dto.Created(c, PlanResponse{
		Success:   true,
		ProjectID: project.ID,
		Project:   project,
		Post:      out.Post,
	})
}

// projectFromPlan 把规范化规划落成项目聚合
func projectFromPlan(name string, plan *director.Plan) *entity.AgentProject {
	if strings.TrimSpace(name) == "" {
		name = plan.CreativeBrief.Title
	}
	if strings.TrimSpace(name) == "" {
		name = "未命名项目"
	}

	project := entity.NewAgentProject(uuid.NewString(), name)
	project.CreativeBrief = plan.CreativeBrief
	for _, el := range plan.Elements {
		if el != nil && el.ID != "" {
			project.Elements[el.ID] = el
		}
	}
	project.Segments = plan.Segments
	return project
}

// Chat 项目内场景路由聊天
func (h *AgentHandler) Chat(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}

	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid chat request: "+err.Error())
		return
	}

	result, err := h.director.Chat(c.Request.Context(), &director.ChatInput{
		Message:     req.Message,
		Project:     project,
		History:     project.AgentMemory,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		dto.FromError(c, err)
		return
	}

	// 聊天会追加 agent_memory，成功后落库
	project.Touch()
	if err := h.repo.Save(c.Request.Context(), project); err != nil {
		logger.Warn(c.Request.Context(), "chat memory persist failed", "error", err)
	}
	dto.Success(c, result)
}

// ApplyEdit 应用经用户确认的编辑载荷
func (h *AgentHandler) ApplyEdit(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}

	var req dto.ApplyEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid edit request: "+err.Error())
		return
	}

	edit := &operator.Edit{
		Kind:        operator.EditKind(req.Kind),
		Patch:       req.Patch,
		FromChat:    req.FromChat,
		UserMessage: req.UserMessage,
	}
	if len(req.Actions) > 0 {
		actions, err := operator.ParseActions(req.Actions)
		if err != nil {
			dto.BadRequest(c, "invalid actions payload: "+err.Error())
			return
		}
		edit.Actions = actions
	}

	result, err := h.operator.Apply(c.Request.Context(), project, edit)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, result)
}

// Doctor 剧本医生：返回修订补丁，应用由确认后的 ApplyEdit 完成
func (h *AgentHandler) Doctor(c *gin.Context) {
	h.revise(c, h.director.ScriptDoctor)
}

// AssetCompletion 资产补全：为缺描述/缺元素的分镜补齐素材
func (h *AgentHandler) AssetCompletion(c *gin.Context) {
	h.revise(c, h.director.AssetCompletion)
}

// SplitVisuals 拆分组画面差异化
func (h *AgentHandler) SplitVisuals(c *gin.Context) {
	h.revise(c, h.director.SplitVisuals)
}

func (h *AgentHandler) revise(c *gin.Context, fn func(ctx context.Context, in *director.ReviseInput) (map[string]any, error)) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}

	var req dto.ReviseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid revise request: "+err.Error())
		return
	}

	patch, err := fn(c.Request.Context(), &director.ReviseInput{
		Project:     project,
		Focus:       req.Focus,
		ParentShot:  req.ParentShot,
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, patch)
}
