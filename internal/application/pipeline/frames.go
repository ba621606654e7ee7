package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/infrastructure/mediacache"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
	"storyboard-agent-api/pkg/tracer"
)

// 起始帧分辨率
const (
	frameWidth  = 1280
	frameHeight = 720
)

// FramesOptions 起始帧阶段选项
type FramesOptions struct {
	Mode           string   // missing（默认）| regenerate
	ShotIDs        []string // 为空时处理全部分镜
	ExcludeShotIDs []string
	VisualStyle    string // 覆盖简报风格
}

// GenerateFrames 阶段二：为分镜生成起始帧。
// missing 模式只补缺失；regenerate 模式无条件重画（旧图入历史）。
func (e *Executor) GenerateFrames(ctx context.Context, project *entity.AgentProject, opts *FramesOptions, progress ProgressFunc) (*StageResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.GenerateFrames")
	defer span.End()
	defer stageTimer(StageFrames)()

	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if opts == nil {
		opts = &FramesOptions{}
	}
	regenerate := opts.Mode == "regenerate"

	flag, done := e.beginRun(project.ID)
	defer done()

	targets := e.frameTargets(project, opts)
	counts := director.PromptKeyCounts(project.AllShots())
	result := &StageResult{Stage: StageFrames, Total: len(targets)}
	emit(progress, &ProgressEvent{Type: EventStart, Stage: StageFrames, Percent: 0,
		Message: "start frame generation started"})

	for i, shot := range targets {
		if cancelled(ctx, flag) {
			break
		}
		percent := percentOf(i, len(targets))
		if !regenerate && UsableAssetURL(shot.StartImageURL, e.uploadsPrefix(), time.Now()) {
			result.Skipped++
			countItem(StageFrames, "skipped")
			emit(progress, &ProgressEvent{Type: EventSkip, Stage: StageFrames, ItemID: shot.ID, Percent: percent})
			continue
		}

		emit(progress, &ProgressEvent{Type: EventGenerating, Stage: StageFrames, ItemID: shot.ID,
			Percent: percent, Message: shot.Name})
		if err := e.generateStartFrame(ctx, project, shot, counts, opts.VisualStyle); err != nil {
			shot.Status = entity.ShotStatusFrameFailed
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ID: shot.ID, Message: err.Error()})
			countItem(StageFrames, "failed")
			emit(progress, &ProgressEvent{Type: EventError, Stage: StageFrames, ItemID: shot.ID,
				Percent: percent, Error: err.Error()})
			continue
		}

		result.Generated++
		countItem(StageFrames, "generated")
		if err := e.save(ctx, project); err != nil {
			logger.Warn(ctx, "frame progress persist failed", "shot_id", shot.ID, "error", err)
		}
		emit(progress, &ProgressEvent{Type: EventComplete, Stage: StageFrames, ItemID: shot.ID,
			Percent: percentOf(i+1, len(targets))})
	}

	if err := e.save(ctx, project); err != nil {
		return result, err
	}
	emit(progress, &ProgressEvent{Type: EventDone, Stage: StageFrames, Percent: 100})
	e.logStageDone(ctx, result)
	return result, nil
}

func (e *Executor) frameTargets(project *entity.AgentProject, opts *FramesOptions) []*entity.Shot {
	wanted := make(map[string]struct{}, len(opts.ShotIDs))
	for _, id := range opts.ShotIDs {
		wanted[id] = struct{}{}
	}
	excluded := make(map[string]struct{}, len(opts.ExcludeShotIDs))
	for _, id := range opts.ExcludeShotIDs {
		excluded[id] = struct{}{}
	}

	var out []*entity.Shot
	for _, shot := range project.AllShots() {
		if _, ok := excluded[shot.ID]; ok {
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

// generateStartFrame 单分镜出帧；成功后状态迁移到 frame_ready
func (e *Executor) generateStartFrame(ctx context.Context, project *entity.AgentProject, shot *entity.Shot, counts map[string]int, styleOverride string) error {
	if e.providers == nil || e.providers.Image == nil {
		return errors.New(errors.CodeProviderConfig, "image provider not configured")
	}

	fp := BuildFramePrompt(project, shot, counts)
	if style := strings.TrimSpace(styleOverride); style != "" && project.CreativeBrief.VisualStyle != style {
		fp.Prompt = fp.Prompt + ", " + style
	}

	out, err := e.providers.Image.Generate(ctx, &port.ImageRequest{
		Prompt:          fp.Prompt,
		NegativePrompt:  fp.NegativePrompt,
		ReferenceImages: fp.ReferenceImages,
		Width:           frameWidth,
		Height:          frameHeight,
	})
	if err != nil {
		metrics.ProviderCallTotal.WithLabelValues("image", "error").Inc()
		return errors.Wrap(err, errors.CodeImageProvider, "start frame generation failed")
	}
	metrics.ProviderCallTotal.WithLabelValues("image", "ok").Inc()

	localURL, err := e.cache.Mirror(ctx, out.URL, mediacache.CategoryImage)
	if err != nil {
		logger.Warn(ctx, "start frame mirror failed", "shot_id", shot.ID, "error", err)
		localURL = out.URL
	}

	shot.PushStartImage(localURL, out.URL)
	shot.Status = entity.ShotStatusFrameReady
	project.VisualAssets = append(project.VisualAssets, &entity.VisualAsset{
		ID:        uuid.NewString(),
		Kind:      entity.VisualAssetStartFrame,
		OwnerID:   shot.ID,
		URL:       localURL,
		SourceURL: out.URL,
		CreatedAt: time.Now(),
	})
	return nil
}

// RegenerateFrame 单分镜起始帧重画；供 Operator 的 regenerate_shot_frame 动作调用。
// 旧图保留在历史里，新图按收藏规则决定是否接管当前帧。
func (e *Executor) RegenerateFrame(ctx context.Context, project *entity.AgentProject, shotID string, visualStyle string) error {
	shot, _ := project.FindShot(shotID)
	if shot == nil {
		return errors.New(errors.CodeShotNotFound, "unknown shot: "+shotID)
	}
	counts := director.PromptKeyCounts(project.AllShots())
	if err := e.generateStartFrame(ctx, project, shot, counts, visualStyle); err != nil {
		shot.Status = entity.ShotStatusFrameFailed
		return err
	}
	return nil
}
