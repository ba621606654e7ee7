package pipeline

import (
	"context"
	"math"
	"time"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/tracer"
)

// 应用时间轴时小于该阈值的时长变化不触发视频重置
const resetDeltaSeconds = 0.2

// BuildTimeline 按项目当前状态生成音频时间轴：
// 逐分镜累加时间码，带上已合成的语音轨引用
func BuildTimeline(project *entity.AgentProject) *entity.AudioTimeline {
	tl := &entity.AudioTimeline{
		Version:   1,
		UpdatedAt: time.Now(),
	}
	if project.AudioTimeline != nil {
		tl.Version = project.AudioTimeline.Version + 1
	}

	cursor := 0.0
	for _, seg := range project.Segments {
		if seg == nil {
			continue
		}
		ts := &entity.TimelineSegment{SegmentID: seg.ID, SegmentName: seg.Name}
		for _, shot := range seg.Shots {
			if shot == nil {
				continue
			}
			dur := shot.Duration
			if dur < entity.MinShotSeconds {
				dur = entity.MinShotSeconds
			}
			ts.Shots = append(ts.Shots, &entity.TimelineShot{
				ShotID:            shot.ID,
				TimecodeStart:     cursor,
				TimecodeEnd:       cursor + dur,
				Duration:          dur,
				VoiceAudioURL:     shot.VoiceAudioURL,
				VoiceDurationMS:   shot.VoiceAudioDurationMS,
				NarrationAudioURL: shot.NarrationAudioURL,
				NarrationDuration: shot.NarrationAudioDuration,
				DialogueAudioURL:  shot.DialogueAudioURL,
				DialogueDuration:  shot.DialogueAudioDurationMS,
			})
			cursor += dur
		}
		tl.Segments = append(tl.Segments, ts)
	}
	tl.TotalDuration = cursor
	return tl
}

// TimelineOptions 时间轴应用选项
type TimelineOptions struct {
	ResetVideos bool // 时长变化超阈值时清除该分镜的视频产物
	Confirm     bool
}

// ApplyTimeline 把（可能被编辑过的）时间轴写回项目。
// 时间轴分镜 ID 必须与项目分镜构成保序的集合一一对应，否则整体拒绝。
func (e *Executor) ApplyTimeline(ctx context.Context, project *entity.AgentProject, tl *entity.AudioTimeline, opts *TimelineOptions) error {
	ctx, span := tracer.Start(ctx, "pipeline.ApplyTimeline")
	defer span.End()

	if project == nil {
		return errors.ErrProjectNotFound
	}
	if tl == nil {
		return errors.New(errors.CodeInvalidParam, "timeline is required")
	}
	if opts == nil {
		opts = &TimelineOptions{}
	}
	if err := checkTimelineBijection(project, tl); err != nil {
		return err
	}

	byID := make(map[string]*entity.TimelineShot)
	for _, seg := range tl.Segments {
		for _, s := range seg.Shots {
			byID[s.ShotID] = s
		}
	}

	cursor := 0.0
	for _, shot := range project.AllShots() {
		entry := byID[shot.ID]
		dur := entity.RoundDurationUp(entry.Duration)
		if opts.ResetVideos && math.Abs(dur-shot.Duration) > resetDeltaSeconds {
			shot.ClearVideo()
		}
		shot.Duration = dur
		entry.Duration = dur
		entry.TimecodeStart = cursor
		entry.TimecodeEnd = cursor + dur
		cursor += dur
	}

	tl.TotalDuration = cursor
	tl.UpdatedAt = time.Now()
	if project.AudioTimeline != nil && tl.Version <= project.AudioTimeline.Version {
		tl.Version = project.AudioTimeline.Version + 1
	}
	if opts.Confirm {
		tl.Confirmed = true
	}
	project.AudioTimeline = tl
	return e.save(ctx, project)
}

// checkTimelineBijection 时间轴与项目分镜的保序一一对应校验
func checkTimelineBijection(project *entity.AgentProject, tl *entity.AudioTimeline) error {
	tlIDs := tl.ShotIDs()
	seen := make(map[string]struct{}, len(tlIDs))
	for _, id := range tlIDs {
		if _, dup := seen[id]; dup {
			return errors.New(errors.CodeTimelineMismatch, "duplicate shot in timeline: "+id)
		}
		seen[id] = struct{}{}
	}

	shots := project.AllShots()
	if len(shots) != len(tlIDs) {
		return errors.New(errors.CodeTimelineMismatch, "timeline shot count differs from project")
	}
	for i, shot := range shots {
		if tlIDs[i] != shot.ID {
			return errors.New(errors.CodeTimelineMismatch, "timeline order differs from project at "+shot.ID)
		}
	}
	return nil
}
