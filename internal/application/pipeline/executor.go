package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/config"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/domain/repository"
	"storyboard-agent-api/internal/infrastructure/mediacache"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
)

// Stage 流水线阶段
type Stage string

const (
	StageElements Stage = "elements"
	StageFrames   Stage = "frames"
	StageVideos   Stage = "videos"
	StageTTS      Stage = "tts"
	StageTimeline Stage = "timeline"
)

// EventType 进度事件类型
type EventType string

const (
	EventStart        EventType = "start"
	EventGenerating   EventType = "generating"
	EventComplete     EventType = "complete"
	EventSkip         EventType = "skip"
	EventError        EventType = "error"
	EventPollingStart EventType = "polling_start"
	EventPolling      EventType = "polling"
	EventDone         EventType = "done"
)

// ProgressEvent 单条进度事件；Percent 为阶段内完成百分比
type ProgressEvent struct {
	Type    EventType `json:"type"`
	Stage   Stage     `json:"stage"`
	Phase   string    `json:"phase,omitempty"`
	ItemID  string    `json:"item_id,omitempty"`
	Message string    `json:"message,omitempty"`
	Percent int       `json:"percent"`
	Error   string    `json:"error,omitempty"`
}

// ProgressFunc 进度回调；nil 时静默执行
type ProgressFunc func(*ProgressEvent)

// ItemError 单项失败记录
type ItemError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// StageResult 阶段执行结果；Failed == 0 视为成功
type StageResult struct {
	Stage     Stage       `json:"stage"`
	Total     int         `json:"total"`
	Generated int         `json:"generated"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Success 是否全部成功
func (r *StageResult) Success() bool { return r.Failed == 0 }

// Executor 流水线执行器。同一项目同一时刻只应有一个执行者；
// 每个条目成功后整体落库一次，保证进度可恢复。
type Executor struct {
	repo      repository.AgentProjectRepository
	providers *port.Providers
	cache     *mediacache.Cache
	director  *director.Director
	cfg       config.PipelineConfig
	video     config.VideoConfig
	tts       config.TTSConfig

	cancels sync.Map // projectID -> *atomic.Bool

	ffmpegOnce sync.Once
	ffmpegPath string
}

// NewExecutor 创建执行器
func NewExecutor(
	repo repository.AgentProjectRepository,
	providers *port.Providers,
	cache *mediacache.Cache,
	dir *director.Director,
	cfg config.PipelineConfig,
	video config.VideoConfig,
	tts config.TTSConfig,
) *Executor {
	return &Executor{
		repo:      repo,
		providers: providers,
		cache:     cache,
		director:  dir,
		cfg:       cfg,
		video:     video,
		tts:       tts,
	}
}

// Cancel 请求取消某项目正在运行的流水线；在下一个条目边界生效
func (e *Executor) Cancel(projectID string) {
	if v, ok := e.cancels.Load(projectID); ok {
		v.(*atomic.Bool).Store(true)
	}
}

// beginRun 登记一次运行的取消标记；返回清理函数
func (e *Executor) beginRun(projectID string) (flag *atomic.Bool, done func()) {
	flag = &atomic.Bool{}
	e.cancels.Store(projectID, flag)
	return flag, func() { e.cancels.Delete(projectID) }
}

// cancelled 条目边界的协作式取消检查
func cancelled(ctx context.Context, flag *atomic.Bool) bool {
	return ctx.Err() != nil || (flag != nil && flag.Load())
}

func (e *Executor) uploadsPrefix() string {
	if e.cfg.UploadsPrefix != "" {
		return e.cfg.UploadsPrefix
	}
	return "/api/uploads"
}

// save 整体落库；流式阶段每个成功条目后调用一次，保证进度持久
func (e *Executor) save(ctx context.Context, project *entity.AgentProject) error {
	project.Touch()
	if e.repo == nil {
		return nil
	}
	if err := e.repo.Save(ctx, project); err != nil {
		return errors.Wrap(err, errors.CodeDatabaseError, "failed to persist project")
	}
	return nil
}

func emit(fn ProgressFunc, ev *ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}

// stageTimer 阶段耗时指标
func stageTimer(stage Stage) func() {
	start := time.Now()
	return func() {
		metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

func countItem(stage Stage, status string) {
	metrics.PipelineItemsTotal.WithLabelValues(string(stage), status).Inc()
}

// percentOf 阶段内进度百分比
func percentOf(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}

func (e *Executor) logStageDone(ctx context.Context, result *StageResult) {
	logger.Info(ctx, "pipeline stage finished",
		"stage", string(result.Stage),
		"total", result.Total,
		"generated", result.Generated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
}
