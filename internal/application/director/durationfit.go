package director

import (
	"context"
	"math"
	"strconv"

	"storyboard-agent-api/internal/application/ident"
	"storyboard-agent-api/internal/application/operator"
	"storyboard-agent-api/internal/domain/entity"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
	"storyboard-agent-api/pkg/tracer"
)

// fitDuration 时长校准兜底：启发式误差超限时让 LLM 基于紧凑快照修订规划，
// 应用补丁后重跑拆分/补时/去重并刷新结果摘要。
func (d *Director) fitDuration(ctx context.Context, in *PlanInput, plan *Plan, post *PostprocessResult) error {
	ctx, span := tracer.Start(ctx, "director.fitDuration")
	defer span.End()

	vars := map[string]any{
		"target_seconds":    strconv.FormatFloat(post.TargetSeconds, 'f', 1, 64),
		"estimated_seconds": strconv.FormatFloat(post.TotalSeconds, 'f', 1, 64),
		"speed_ratio":       strconv.FormatFloat(post.SpeedRatio, 'f', 2, 64),
		"plan_snapshot":     PlanSnapshot(plan),
	}
	var patch map[string]any
	if _, err := d.callJSON(ctx, in.Provider, in.Model, "duration_fit",
		workflowprompt.PromptDurationFitV1, vars, &patch,
		modelOptions(in.Model, in.Temperature, in.MaxTokens)); err != nil {
		return err
	}

	ApplyFitPatch(plan, patch)

	speed := plan.CreativeBrief.TTSSpeedRatio
	if speed <= 0 {
		speed = post.SpeedRatio
	}
	post.SplitShots += splitOverlongShots(plan, speed)
	if post.TargetSeconds > 0 {
		post.ExtendSteps += extendToTarget(plan, post.TargetSeconds)
	}
	dedupePrompts(plan)

	post.TotalSeconds = planTotalSeconds(plan)
	if post.TargetSeconds > 0 {
		post.NeedsDurationFit = math.Abs(post.TotalSeconds-post.TargetSeconds)/post.TargetSeconds > fitGapRatio
	}
	return nil
}

// ApplyFitPatch 把时长校准补丁应用到规划：
// creative_brief_patch 按规范键合并；segments_patch 仅按 ID 匹配既有段落/分镜；
// add_shots 安全铸 ID 后按锚点插入。绝不删除或重命名既有条目。
func ApplyFitPatch(plan *Plan, patch map[string]any) {
	if len(patch) == 0 {
		return
	}

	if brief, ok := lookupValue(patch, "creative_brief_patch", "creative_brief").(map[string]any); ok {
		for k, v := range brief {
			if ck := operator.CanonicalBriefKey(k); ck != "" {
				plan.CreativeBrief.SetField(ck, coerceScalar(v))
			}
		}
		plan.CreativeBrief.AudioWorkflowResolved = plan.CreativeBrief.ResolveAudioWorkflow()
	}

	if segs, ok := lookupValue(patch, "segments_patch", "segments").([]any); ok {
		for _, rs := range segs {
			sm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			mergeFitSegment(plan, sm)
		}
	}

	if adds, ok := lookupValue(patch, "add_shots").([]any); ok {
		for _, rs := range adds {
			sm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			addFitShot(plan, sm)
		}
	}
}

func mergeFitSegment(plan *Plan, sm map[string]any) {
	id := strOf(lookupValue(sm, "id", "segment_id"))
	var seg *entity.Segment
	for _, s := range plan.Segments {
		if s.ID == id {
			seg = s
			break
		}
	}
	if seg == nil {
		return
	}
	if name := strOf(lookupValue(sm, "name")); name != "" {
		seg.Name = name
	}
	shots, _ := lookupValue(sm, "shots").([]any)
	for _, rs := range shots {
		shm, ok := rs.(map[string]any)
		if !ok {
			continue
		}
		shotID := strOf(lookupValue(shm, "id", "shot_id"))
		for _, shot := range seg.Shots {
			if shot.ID == shotID {
				mergeFitShot(shot, shm)
				break
			}
		}
	}
}

func mergeFitShot(shot *entity.Shot, shm map[string]any) {
	if v := strOf(lookupValue(shm, "description", "desc")); v != "" {
		shot.Description = v
	}
	if v := strOf(lookupValue(shm, "narration", "voiceover")); v != "" {
		shot.Narration = v
	}
	if v := strOf(lookupValue(shm, "dialogue_script", "dialogue")); v != "" {
		shot.DialogueScript = v
	}
	if v := strOf(lookupValue(shm, "prompt")); v != "" {
		shot.Prompt = v
	}
	if v := strOf(lookupValue(shm, "video_prompt")); v != "" {
		shot.VideoPrompt = v
	}
	if f, ok := floatOf(lookupValue(shm, "duration")); ok && f > 0 {
		shot.Duration = clampShotSeconds(entity.RoundDurationUp(f))
	}
}

func addFitShot(plan *Plan, sm map[string]any) {
	if len(plan.Segments) == 0 {
		return
	}
	segID := strOf(lookupValue(sm, "segment_id"))
	seg := plan.Segments[len(plan.Segments)-1]
	for _, s := range plan.Segments {
		if s.ID == segID {
			seg = s
			break
		}
	}

	taken := ident.TakenSet(plan.ShotIDs())
	name := strOf(lookupValue(sm, "name"))
	shot := &entity.Shot{
		ID:     ident.EnsureUnique(ident.Coerce(ident.ShotPrefix, strOf(lookupValue(sm, "id", "shot_id")), name), taken),
		Name:   name,
		Type:   entity.NormalizeShotType(strOf(lookupValue(sm, "type"))),
		Status: entity.ShotStatusPending,
	}
	mergeFitShot(shot, sm)
	if shot.Duration <= 0 {
		shot.Duration = entity.MinShotSeconds
	}

	afterID := strOf(lookupValue(sm, "after_shot_id", "anchor"))
	inserted := false
	if afterID != "" {
		for i, s := range seg.Shots {
			if s.ID == afterID {
				seg.Shots = append(seg.Shots[:i+1], append([]*entity.Shot{shot}, seg.Shots[i+1:]...)...)
				inserted = true
				break
			}
		}
	}
	if !inserted {
		seg.Shots = append(seg.Shots, shot)
	}
}
