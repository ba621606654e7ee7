package pipeline

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/infrastructure/mediacache"
	"storyboard-agent-api/internal/workflow/node"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
	"storyboard-agent-api/pkg/tracer"
)

// 各分镜类型的运镜短语
var motionPhrases = map[entity.ShotType]string{
	entity.ShotTypeStandard: "自然流畅的角色动作与轻微镜头运动，避免突兀跳切",
	entity.ShotTypeQuick:    "节奏更快的动作与镜头移动，但保持画面稳定不眩晕",
	entity.ShotTypeCloseup:  "以角色表情与细节为主，轻微推拉或微摇镜头",
	entity.ShotTypeWide:     "展示环境与空间关系，缓慢平移/推进镜头，氛围感强",
	entity.ShotTypeMontage:  "更强的节奏感与剪辑感，多段动作连贯但不杂乱",
}

// VideosOptions 视频阶段选项
type VideosOptions struct {
	ShotIDs []string // 为空时处理全部符合条件的分镜
	Wait    bool     // 提交后是否阻塞轮询直至全部完结
}

// GenerateVideos 阶段三：为有起始帧的分镜提交图生视频任务。
// 同步完成的任务直接落盘；异步任务记录 task_id 并标记 video_processing，
// Wait 时在阶段尾部批量轮询。
func (e *Executor) GenerateVideos(ctx context.Context, project *entity.AgentProject, opts *VideosOptions, progress ProgressFunc) (*StageResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.GenerateVideos")
	defer span.End()
	defer stageTimer(StageVideos)()

	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if opts == nil {
		opts = &VideosOptions{}
	}
	flag, done := e.beginRun(project.ID)
	defer done()

	targets := e.videoTargets(project, opts)
	result := &StageResult{Stage: StageVideos, Total: len(targets)}
	emit(progress, &ProgressEvent{Type: EventStart, Stage: StageVideos, Percent: 0,
		Message: "video generation started"})

	for i, shot := range targets {
		if cancelled(ctx, flag) {
			break
		}
		percent := percentOf(i, len(targets))
		if UsableAssetURL(shot.VideoURL, e.uploadsPrefix(), time.Now()) {
			result.Skipped++
			countItem(StageVideos, "skipped")
			emit(progress, &ProgressEvent{Type: EventSkip, Stage: StageVideos, ItemID: shot.ID, Percent: percent})
			continue
		}

		emit(progress, &ProgressEvent{Type: EventGenerating, Stage: StageVideos, ItemID: shot.ID,
			Percent: percent, Message: shot.Name})
		if err := e.submitVideo(ctx, project, shot); err != nil {
			shot.Status = entity.ShotStatusVideoFailed
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ID: shot.ID, Message: err.Error()})
			countItem(StageVideos, "failed")
			emit(progress, &ProgressEvent{Type: EventError, Stage: StageVideos, ItemID: shot.ID,
				Percent: percent, Error: err.Error()})
			continue
		}

		result.Generated++
		countItem(StageVideos, "generated")
		if err := e.save(ctx, project); err != nil {
			logger.Warn(ctx, "video progress persist failed", "shot_id", shot.ID, "error", err)
		}
		emit(progress, &ProgressEvent{Type: EventComplete, Stage: StageVideos, ItemID: shot.ID,
			Percent: percentOf(i+1, len(targets))})
	}

	if opts.Wait {
		waitRes := e.WaitForVideos(ctx, project, flag, progress)
		result.Failed += waitRes.Failed
		result.Errors = append(result.Errors, waitRes.Errors...)
	}

	if err := e.save(ctx, project); err != nil {
		return result, err
	}
	emit(progress, &ProgressEvent{Type: EventDone, Stage: StageVideos, Percent: 100})
	e.logStageDone(ctx, result)
	return result, nil
}

// videoTargets 有起始帧且视频缺失/不可用的分镜
func (e *Executor) videoTargets(project *entity.AgentProject, opts *VideosOptions) []*entity.Shot {
	wanted := make(map[string]struct{}, len(opts.ShotIDs))
	for _, id := range opts.ShotIDs {
		wanted[id] = struct{}{}
	}
	var out []*entity.Shot
	for _, shot := range project.AllShots() {
		if shot.StartImageURL == "" {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[shot.ID]; !ok {
				continue
			}
		}
		out = append(out, shot)
	}
	return out
}

// submitVideo 单分镜提交图生视频。
// 提供商拒绝 generate_audio 时去掉该参数重试一次并记录能力降级。
func (e *Executor) submitVideo(ctx context.Context, project *entity.AgentProject, shot *entity.Shot) error {
	if e.providers == nil || e.providers.Video == nil {
		return errors.New(errors.CodeProviderConfig, "video provider not configured")
	}

	workflow := project.CreativeBrief.ResolveAudioWorkflow()
	duration := videoDuration(shot)
	if duration > shot.Duration {
		shot.Duration = duration
	}

	req := &port.VideoRequest{
		ImageURL:      preferredImageURL(shot),
		Prompt:        e.buildVideoPrompt(project, shot, workflow),
		Duration:      duration,
		Resolution:    e.videoResolution(),
		Ratio:         e.videoRatio(project),
		GenerateAudio: workflow == entity.AudioWorkflowVideoDialogue,
	}

	out, err := e.providers.Video.Generate(ctx, req)
	if err != nil && req.GenerateAudio && node.IsGenerateAudioUnsupportedError(err) {
		req.GenerateAudio = false
		out, err = e.providers.Video.Generate(ctx, req)
		if err == nil {
			shot.VideoAudioDisabled = true
			if project.CreativeBrief.VideoAudioSupported != entity.VideoAudioSupported {
				project.CreativeBrief.VideoAudioSupported = entity.VideoAudioUnsupported
				project.CreativeBrief.AudioWorkflowResolved = project.CreativeBrief.ResolveAudioWorkflow()
			}
		}
	}
	if err != nil {
		metrics.ProviderCallTotal.WithLabelValues("video", "error").Inc()
		return errors.Wrap(err, errors.CodeVideoProvider, "video submission failed")
	}
	metrics.ProviderCallTotal.WithLabelValues("video", "ok").Inc()
	if out.AudioDisabled {
		shot.VideoAudioDisabled = true
	}

	// 同步完成：直接镜像落盘
	if out.Status == port.VideoTaskCompleted && out.VideoURL != "" {
		e.attachVideo(ctx, project, shot, out.VideoURL)
		return nil
	}
	if out.TaskID == "" {
		return errors.New(errors.CodeVideoProvider, "provider returned neither video nor task id")
	}
	shot.VideoTaskID = out.TaskID
	shot.Status = entity.ShotStatusVideoProcessing
	return nil
}

// videoDuration 声画对齐：max(声明时长, 语音时长向上取半秒)，下限 2.0s
func videoDuration(shot *entity.Shot) float64 {
	d := shot.Duration
	if shot.VoiceAudioDurationMS > 0 {
		voice := math.Ceil(float64(shot.VoiceAudioDurationMS)/1000*2) / 2
		if voice > d {
			d = voice
		}
	}
	if d < entity.MinShotSeconds {
		d = entity.MinShotSeconds
	}
	return d
}

func preferredImageURL(shot *entity.Shot) string {
	if shot.StartImageURL != "" {
		return shot.StartImageURL
	}
	return shot.CachedStartImageURL
}

func (e *Executor) videoResolution() string {
	if e.video.Resolution != "" {
		return e.video.Resolution
	}
	return "720p"
}

func (e *Executor) videoRatio(project *entity.AgentProject) string {
	if r := strings.TrimSpace(project.CreativeBrief.AspectRatio); r != "" {
		return r
	}
	return "16:9"
}

// buildVideoPrompt 组装运动提示词；显式 video_prompt 优先
func (e *Executor) buildVideoPrompt(project *entity.AgentProject, shot *entity.Shot, workflow entity.AudioWorkflow) string {
	if p := strings.TrimSpace(shot.VideoPrompt); p != "" {
		return p
	}

	base := shot.Description
	if strings.TrimSpace(base) == "" {
		base = shot.Prompt
	}
	refs := referencedElements(project, base)

	parts := []string{resolveElementTags(project, base)}
	if consistency := consistencyPhrase(refs); consistency != "" {
		parts = append(parts, consistency)
	}
	if style := strings.TrimSpace(project.CreativeBrief.VisualStyle); style != "" {
		parts = append(parts, style)
	}
	parts = append(parts, motionPhrase(shot.Type))
	parts = append(parts, "动作与镜头节奏适配该镜头时长，收尾自然不僵住")

	switch workflow {
	case entity.AudioWorkflowVideoDialogue:
		parts = append(parts, "角色可以开口说台词，允许环境音与轻背景音乐，但不要旁白")
		if ds := strings.TrimSpace(shot.DialogueScript); ds != "" {
			parts = append(parts, "台词："+node.TruncateByRunes(ds, 300))
		}
	default:
		parts = append(parts, "画面完全静音意图：不要任何说话、人声、台词或旁白，语音由后期配音承担")
	}
	parts = append(parts, "画面中不要出现任何文字或字幕")

	return strings.Join(compactNonEmpty(parts), "，")
}

func motionPhrase(t entity.ShotType) string {
	if p, ok := motionPhrases[t]; ok {
		return p
	}
	return motionPhrases[entity.ShotTypeStandard]
}

// attachVideo 视频就绪：本地镜像、更新字段、状态迁移并登记资产
func (e *Executor) attachVideo(ctx context.Context, project *entity.AgentProject, shot *entity.Shot, remoteURL string) {
	localURL, err := e.cache.Mirror(ctx, remoteURL, mediacache.CategoryVideo)
	if err != nil {
		logger.Warn(ctx, "video mirror failed", "shot_id", shot.ID, "error", err)
		localURL = remoteURL
	}
	shot.VideoURL = localURL
	shot.VideoSourceURL = remoteURL
	if localURL != remoteURL {
		shot.CachedVideoURL = localURL
	}
	shot.VideoTaskID = ""
	shot.Status = entity.ShotStatusVideoReady
	project.VisualAssets = append(project.VisualAssets, &entity.VisualAsset{
		ID:        uuid.NewString(),
		Kind:      entity.VisualAssetVideo,
		OwnerID:   shot.ID,
		URL:       localURL,
		SourceURL: remoteURL,
		CreatedAt: time.Now(),
	})
}

// PollSummary 一轮轮询的结果
type PollSummary struct {
	Pending   int         `json:"pending"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// PollVideosOnce 检查所有带 task_id 且尚无视频的分镜各一次。
// 未知状态保持 video_processing，留待下一轮。
func (e *Executor) PollVideosOnce(ctx context.Context, project *entity.AgentProject) *PollSummary {
	summary := &PollSummary{}
	for _, shot := range project.AllShots() {
		if shot.VideoTaskID == "" || shot.VideoURL != "" {
			continue
		}
		res, err := e.providers.Video.CheckTaskStatus(ctx, shot.VideoTaskID)
		if err != nil {
			// 单次查询失败不定性，下一轮重试
			summary.Pending++
			logger.Warn(ctx, "video poll query failed", "shot_id", shot.ID, "error", err)
			continue
		}
		switch res.Status {
		case port.VideoTaskCompleted:
			e.attachVideo(ctx, project, shot, res.VideoURL)
			summary.Completed++
		case port.VideoTaskFailed:
			shot.Status = entity.ShotStatusVideoFailed
			shot.VideoTaskID = ""
			summary.Failed++
			msg := res.Error
			if msg == "" {
				msg = "video task failed"
			}
			summary.Errors = append(summary.Errors, ItemError{ID: shot.ID, Message: msg})
		default:
			summary.Pending++
		}
	}
	return summary
}

// WaitForVideos 批量等待：按固定间隔轮询直到全部完结或触达轮询上限；
// 上限触发时剩余任务标记 video_timeout。
func (e *Executor) WaitForVideos(ctx context.Context, project *entity.AgentProject, flag *atomic.Bool, progress ProgressFunc) *StageResult {
	result := &StageResult{Stage: StageVideos}
	total := 0
	for _, shot := range project.AllShots() {
		if shot.VideoTaskID != "" && shot.VideoURL == "" {
			total++
		}
	}
	result.Total = total

	interval := e.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ceiling := e.cfg.PollCeiling
	if ceiling <= 0 {
		ceiling = 10 * time.Minute
	}
	deadline := time.Now().Add(ceiling)

	emit(progress, &ProgressEvent{Type: EventPollingStart, Stage: StageVideos, Phase: "polling"})
	for {
		if flag != nil && flag.Load() {
			return result
		}
		if ctx.Err() != nil {
			break
		}

		summary := e.PollVideosOnce(ctx, project)
		result.Failed += summary.Failed
		result.Errors = append(result.Errors, summary.Errors...)
		if summary.Completed > 0 || summary.Failed > 0 {
			if err := e.save(ctx, project); err != nil {
				logger.Warn(ctx, "poll progress persist failed", "error", err)
			}
		}

		switch {
		case summary.Completed > 0:
			metrics.VideoPollRounds.WithLabelValues("completed").Inc()
		case summary.Failed > 0:
			metrics.VideoPollRounds.WithLabelValues("failed").Inc()
		default:
			metrics.VideoPollRounds.WithLabelValues("progress").Inc()
		}

		if summary.Pending == 0 {
			return result
		}
		emit(progress, &ProgressEvent{Type: EventPolling, Stage: StageVideos, Phase: "polling",
			Message: "waiting for video tasks", Percent: percentOf(result.Total-summary.Pending, result.Total)})

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}

	// 轮询上限：剩余任务判超时
	metrics.VideoPollRounds.WithLabelValues("timeout").Inc()
	for _, shot := range project.AllShots() {
		if shot.VideoTaskID != "" && shot.VideoURL == "" {
			shot.Status = entity.ShotStatusVideoTimeout
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ID: shot.ID, Message: "video polling ceiling reached"})
		}
	}
	if err := e.save(ctx, project); err != nil {
		logger.Warn(ctx, "timeout persist failed", "error", err)
	}
	return result
}
