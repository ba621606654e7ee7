package handler

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyboard-agent-api/internal/application/pipeline"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/domain/repository"
	"storyboard-agent-api/internal/infrastructure/messaging"
	"storyboard-agent-api/internal/interfaces/http/dto"
	"storyboard-agent-api/pkg/logger"
)

// PipelineHandler 流水线阶段处理器；每个阶段有同步与 SSE 两种形态
type PipelineHandler struct {
	executor *pipeline.Executor
	repo     repository.AgentProjectRepository
	producer *messaging.Producer // 可为空：同进程等待轮询
}

// NewPipelineHandler 创建流水线处理器
func NewPipelineHandler(executor *pipeline.Executor, repo repository.AgentProjectRepository, producer *messaging.Producer) *PipelineHandler {
	return &PipelineHandler{executor: executor, repo: repo, producer: producer}
}

// Elements 元素图阶段
func (h *PipelineHandler) Elements(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.ElementsStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return
	}

	result, err := h.executor.GenerateElements(c.Request.Context(), project,
		&pipeline.ElementsOptions{Overwrite: req.Overwrite, ElementIDs: req.ElementIDs}, nil)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, result)
}

// ElementsStream 元素图阶段（SSE 进度）
func (h *PipelineHandler) ElementsStream(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.ElementsStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return
	}

	h.streamStage(c, func(progress pipeline.ProgressFunc) (*pipeline.StageResult, error) {
		return h.executor.GenerateElements(c.Request.Context(), project,
			&pipeline.ElementsOptions{Overwrite: req.Overwrite, ElementIDs: req.ElementIDs}, progress)
	})
}

// Frames 起始帧阶段
func (h *PipelineHandler) Frames(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.FramesStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return
	}

	result, err := h.executor.GenerateFrames(c.Request.Context(), project, framesOptions(&req), nil)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, result)
}

// FramesStream 起始帧阶段（SSE 进度）
func (h *PipelineHandler) FramesStream(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.FramesStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return
	}

	h.streamStage(c, func(progress pipeline.ProgressFunc) (*pipeline.StageResult, error) {
		return h.executor.GenerateFrames(c.Request.Context(), project, framesOptions(&req), progress)
	})
}

func framesOptions(req *dto.FramesStageRequest) *pipeline.FramesOptions {
	return &pipeline.FramesOptions{
		Mode:           req.Mode,
		ShotIDs:        req.ShotIDs,
		ExcludeShotIDs: req.ExcludeShotIDs,
		VisualStyle:    req.VisualStyle,
	}
}

// Videos 视频阶段。wait=false 时提交任务后把轮询作业交给 job-worker。
func (h *PipelineHandler) Videos(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.VideosStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return
	}

	result, err := h.executor.GenerateVideos(c.Request.Context(), project,
		&pipeline.VideosOptions{ShotIDs: req.ShotIDs, Wait: req.Wait}, nil)
	if err != nil {
		dto.FromError(c, err)
		return
	}

	if !req.Wait {
		h.enqueuePollJob(c, project, req.ShotIDs)
		dto.Accepted(c, result)
		return
	}
	dto.Success(c, result)
}

// VideosStream 视频阶段（SSE 进度，含轮询事件）
func (h *PipelineHandler) VideosStream(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.VideosStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return
	}

	h.streamStage(c, func(progress pipeline.ProgressFunc) (*pipeline.StageResult, error) {
		return h.executor.GenerateVideos(c.Request.Context(), project,
			&pipeline.VideosOptions{ShotIDs: req.ShotIDs, Wait: true}, progress)
	})
}

// enqueuePollJob 把后台轮询交给 worker；没配消息队列时只打日志
func (h *PipelineHandler) enqueuePollJob(c *gin.Context, project *entity.AgentProject, shotIDs []string) {
	if h.producer == nil {
		logger.Warn(c.Request.Context(), "messaging disabled, video tasks not tracked in background",
			"project_id", project.ID)
		return
	}
	if _, err := h.producer.PublishVideoPollJob(c.Request.Context(), &messaging.VideoPollJobMessage{
		JobID:     uuid.NewString(),
		ProjectID: project.ID,
		ShotIDs:   shotIDs,
	}); err != nil {
		logger.Error(c.Request.Context(), "failed to enqueue video poll job", err,
			"project_id", project.ID)
	}
}

// TTS 语音合成阶段
func (h *PipelineHandler) TTS(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	req, ok := bindTTSRequest(c)
	if !ok {
		return
	}

	result, err := h.executor.GenerateSpeech(c.Request.Context(), project, ttsOptions(req), nil)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, result)
}

// TTSStream 语音合成阶段（SSE 进度）
func (h *PipelineHandler) TTSStream(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	req, ok := bindTTSRequest(c)
	if !ok {
		return
	}

	h.streamStage(c, func(progress pipeline.ProgressFunc) (*pipeline.StageResult, error) {
		return h.executor.GenerateSpeech(c.Request.Context(), project, ttsOptions(req), progress)
	})
}

func bindTTSRequest(c *gin.Context) (*dto.TTSStageRequest, bool) {
	var req dto.TTSStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		dto.BadRequest(c, "invalid stage request: "+err.Error())
		return nil, false
	}
	return &req, true
}

func ttsOptions(req *dto.TTSStageRequest) *pipeline.TTSOptions {
	opts := &pipeline.TTSOptions{
		ShotIDs:          req.ShotIDs,
		Overwrite:        req.Overwrite,
		IncludeNarration: true,
		IncludeDialogue:  true,
	}
	if req.IncludeNarration != nil {
		opts.IncludeNarration = *req.IncludeNarration
	}
	if req.IncludeDialogue != nil {
		opts.IncludeDialogue = *req.IncludeDialogue
	}
	return opts
}

// Cancel 请求取消正在运行的流水线
func (h *PipelineHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		dto.BadRequest(c, "project id is required")
		return
	}
	h.executor.Cancel(id)
	dto.Accepted(c, gin.H{"project_id": id})
}

// Timeline 按当前项目状态生成音频时间轴
func (h *PipelineHandler) Timeline(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	dto.Success(c, pipeline.BuildTimeline(project))
}

// ApplyTimeline 把编辑后的时间轴写回项目
func (h *PipelineHandler) ApplyTimeline(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	var req dto.TimelineApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid timeline request: "+err.Error())
		return
	}

	if err := h.executor.ApplyTimeline(c.Request.Context(), project, req.Timeline,
		&pipeline.TimelineOptions{ResetVideos: req.ResetVideos, Confirm: req.Confirm}); err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, project.AudioTimeline)
}

// MasterAudio 渲染母带预览（纯旁白轨 + 混音轨）
func (h *PipelineHandler) MasterAudio(c *gin.Context) {
	project := loadProject(c, h.repo)
	if project == nil {
		return
	}
	master, err := h.executor.RenderMasterAudio(c.Request.Context(), project)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, master)
}

// streamStage 以 SSE 推送阶段进度；最后一条事件带最终结果
func (h *PipelineHandler) streamStage(c *gin.Context, run func(pipeline.ProgressFunc) (*pipeline.StageResult, error)) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := make(chan *pipeline.ProgressEvent, 64)
	type outcome struct {
		result *pipeline.StageResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(events)
		result, err := run(func(ev *pipeline.ProgressEvent) {
			select {
			case events <- ev:
			case <-c.Request.Context().Done():
			}
		})
		done <- outcome{result: result, err: err}
	}()

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			out := <-done
			if out.err != nil {
				c.SSEvent("error", gin.H{"error": out.err.Error()})
				return false
			}
			c.SSEvent("result", out.result)
			return false
		}
		c.SSEvent("progress", ev)
		return true
	})
}
