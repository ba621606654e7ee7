package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/domain/repository"
	"storyboard-agent-api/internal/interfaces/http/dto"
	"storyboard-agent-api/pkg/logger"
)

// ProjectHandler 项目查询与删除处理器；项目创建走规划接口
type ProjectHandler struct {
	repo repository.AgentProjectRepository
}

// NewProjectHandler 创建项目处理器
func NewProjectHandler(repo repository.AgentProjectRepository) *ProjectHandler {
	return &ProjectHandler{repo: repo}
}

// loadProject 取路径参数里的项目；不存在时写 404 并返回 nil
func loadProject(c *gin.Context, repo repository.AgentProjectRepository) *entity.AgentProject {
	id := c.Param("id")
	if id == "" {
		dto.BadRequest(c, "project id is required")
		return nil
	}

	ctx := logger.WithContext(c.Request.Context(), logger.ProjectIDKey, id)
	c.Request = c.Request.WithContext(ctx)

	project, err := repo.GetByID(ctx, id)
	if err != nil {
		dto.FromError(c, err)
		return nil
	}
	if project == nil {
		dto.NotFound(c, "project not found: "+id)
		return nil
	}
	return project
}

// Get 获取项目完整快照
func (h *ProjectHandler) Get(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	dto.Success(c, project)
}

// List 按更新时间倒序列出项目
func (h *ProjectHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	projects, err := h.repo.List(c.Request.Context(), limit, offset)
	if err != nil {
		dto.FromError(c, err)
		return
	}

	summaries := make([]dto.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, dto.NewProjectSummary(p))
	}
	dto.Success(c, summaries)
}

// Delete 硬删除项目（显式操作）
func (h *ProjectHandler) Delete(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), project.ID); err != nil {
		dto.FromError(c, err)
		return
	}
	dto.NoContent(c)
}
