package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/infrastructure/mediacache"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
	"storyboard-agent-api/pkg/tracer"
)

// ElementsOptions 元素图阶段选项
type ElementsOptions struct {
	Overwrite  bool     // 已有可用图也重新生成
	ElementIDs []string // 为空时处理全部元素
}

// GenerateElements 阶段一：为缺少可用图片的元素生成形象图。
// 逐个处理，单项失败不阻断；每个成功条目后整体落库。
func (e *Executor) GenerateElements(ctx context.Context, project *entity.AgentProject, opts *ElementsOptions, progress ProgressFunc) (*StageResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.GenerateElements")
	defer span.End()
	defer stageTimer(StageElements)()

	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if opts == nil {
		opts = &ElementsOptions{}
	}
	flag, done := e.beginRun(project.ID)
	defer done()

	targets := e.elementTargets(project, opts)
	result := &StageResult{Stage: StageElements, Total: len(targets)}
	emit(progress, &ProgressEvent{Type: EventStart, Stage: StageElements, Percent: 0,
		Message: "element image generation started"})

	for i, el := range targets {
		if cancelled(ctx, flag) {
			break
		}
		percent := percentOf(i, len(targets))
		if UsableAssetURL(el.ImageURL, e.uploadsPrefix(), time.Now()) && !opts.Overwrite {
			result.Skipped++
			countItem(StageElements, "skipped")
			emit(progress, &ProgressEvent{Type: EventSkip, Stage: StageElements, ItemID: el.ID, Percent: percent})
			continue
		}

		emit(progress, &ProgressEvent{Type: EventGenerating, Stage: StageElements, ItemID: el.ID,
			Percent: percent, Message: el.Name})
		if err := e.generateElementImage(ctx, project, el); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ID: el.ID, Message: err.Error()})
			countItem(StageElements, "failed")
			emit(progress, &ProgressEvent{Type: EventError, Stage: StageElements, ItemID: el.ID,
				Percent: percent, Error: err.Error()})
			continue
		}

		result.Generated++
		countItem(StageElements, "generated")
		if err := e.save(ctx, project); err != nil {
			logger.Warn(ctx, "element progress persist failed", "element_id", el.ID, "error", err)
		}
		emit(progress, &ProgressEvent{Type: EventComplete, Stage: StageElements, ItemID: el.ID,
			Percent: percentOf(i+1, len(targets))})
	}

	if err := e.save(ctx, project); err != nil {
		return result, err
	}
	emit(progress, &ProgressEvent{Type: EventDone, Stage: StageElements, Percent: 100})
	e.logStageDone(ctx, result)
	return result, nil
}

func (e *Executor) elementTargets(project *entity.AgentProject, opts *ElementsOptions) []*entity.Element {
	wanted := make(map[string]struct{}, len(opts.ElementIDs))
	for _, id := range opts.ElementIDs {
		wanted[id] = struct{}{}
	}

	ids := make([]string, 0, len(project.Elements))
	for id := range project.Elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*entity.Element
	for _, id := range ids {
		el := project.Elements[id]
		if el == nil {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[id]; !ok {
				continue
			}
		}
		out = append(out, el)
	}
	return out
}

// generateElementImage 单元素出图：LLM 优化提示词 -> 文生图 -> 本地镜像 -> 历史入栈
func (e *Executor) generateElementImage(ctx context.Context, project *entity.AgentProject, el *entity.Element) error {
	if e.providers == nil || e.providers.Image == nil {
		return errors.New(errors.CodeProviderConfig, "image provider not configured")
	}

	prompt, negative := e.director.ElementImagePrompt(ctx, el, project.CreativeBrief.VisualStyle)
	refs := FilterReferenceImages(el.ReferenceImages, time.Now())

	out, err := e.providers.Image.Generate(ctx, &port.ImageRequest{
		Prompt:          prompt,
		NegativePrompt:  negative,
		ReferenceImages: refs,
		Width:           1024,
		Height:          1024,
	})
	if err != nil {
		metrics.ProviderCallTotal.WithLabelValues("image", "error").Inc()
		return errors.Wrap(err, errors.CodeImageProvider, "element image generation failed")
	}
	metrics.ProviderCallTotal.WithLabelValues("image", "ok").Inc()

	localURL, err := e.cache.Mirror(ctx, out.URL, mediacache.CategoryImage)
	if err != nil {
		// 镜像失败降级为直接引用远端地址
		logger.Warn(ctx, "element image mirror failed", "element_id", el.ID, "error", err)
		localURL = out.URL
	}

	el.PushImage(localURL, out.URL)
	project.VisualAssets = append(project.VisualAssets, &entity.VisualAsset{
		ID:        uuid.NewString(),
		Kind:      entity.VisualAssetElementImage,
		OwnerID:   el.ID,
		URL:       localURL,
		SourceURL: out.URL,
		CreatedAt: time.Now(),
	})
	return nil
}
