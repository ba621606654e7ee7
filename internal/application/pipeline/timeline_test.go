package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
)

func timelineProject() *entity.AgentProject {
	p := entity.NewAgentProject("proj-1", "时间轴测试")
	p.Segments = []*entity.Segment{
		{
			ID:   "Segment_1",
			Name: "开场",
			Shots: []*entity.Shot{
				{ID: "Shot_1", Duration: 3.0, VoiceAudioURL: "/api/uploads/audio/s1.mp3", VoiceAudioDurationMS: 2800},
				{ID: "Shot_2", Duration: 4.0},
			},
		},
		{
			ID:    "Segment_2",
			Name:  "结尾",
			Shots: []*entity.Shot{{ID: "Shot_3", Duration: 2.5}},
		},
	}
	return p
}

func TestBuildTimeline(t *testing.T) {
	p := timelineProject()
	tl := BuildTimeline(p)

	assert.Equal(t, 1, tl.Version)
	assert.InDelta(t, 9.5, tl.TotalDuration, 1e-9)
	require.Len(t, tl.Segments, 2)

	first := tl.Segments[0].Shots[0]
	assert.Equal(t, "Shot_1", first.ShotID)
	assert.InDelta(t, 0.0, first.TimecodeStart, 1e-9)
	assert.InDelta(t, 3.0, first.TimecodeEnd, 1e-9)
	assert.Equal(t, "/api/uploads/audio/s1.mp3", first.VoiceAudioURL)
	assert.Equal(t, 2800, first.VoiceDurationMS)

	second := tl.Segments[0].Shots[1]
	assert.InDelta(t, 3.0, second.TimecodeStart, 1e-9)
	assert.InDelta(t, 7.0, second.TimecodeEnd, 1e-9)

	third := tl.Segments[1].Shots[0]
	assert.InDelta(t, 7.0, third.TimecodeStart, 1e-9)
	assert.InDelta(t, 9.5, third.TimecodeEnd, 1e-9)
}

func TestBuildTimelineVersionIncrements(t *testing.T) {
	p := timelineProject()
	p.AudioTimeline = &entity.AudioTimeline{Version: 4}
	assert.Equal(t, 5, BuildTimeline(p).Version)
}

func TestApplyTimeline(t *testing.T) {
	e := &Executor{}
	p := timelineProject()
	tl := BuildTimeline(p)

	// 编辑：第二镜改到 5.2 秒
	tl.Segments[0].Shots[1].Duration = 5.2

	err := e.ApplyTimeline(context.Background(), p, tl, &TimelineOptions{Confirm: true})
	require.NoError(t, err)

	shot, _ := p.FindShot("Shot_2")
	assert.InDelta(t, 5.5, shot.Duration, 1e-9) // 向上取半秒
	assert.InDelta(t, 11.0, tl.TotalDuration, 1e-9)
	assert.True(t, tl.Confirmed)
	assert.Same(t, tl, p.AudioTimeline)

	// 时间码重排连续
	assert.InDelta(t, 3.0, tl.Segments[0].Shots[1].TimecodeStart, 1e-9)
	assert.InDelta(t, 8.5, tl.Segments[0].Shots[1].TimecodeEnd, 1e-9)
	assert.InDelta(t, 8.5, tl.Segments[1].Shots[0].TimecodeStart, 1e-9)
}

func TestApplyTimelineVersionMonotonic(t *testing.T) {
	e := &Executor{}
	p := timelineProject()
	p.AudioTimeline = &entity.AudioTimeline{Version: 7}

	tl := BuildTimeline(p)
	tl.Version = 3 // 客户端带回了旧版本号

	require.NoError(t, e.ApplyTimeline(context.Background(), p, tl, nil))
	assert.Equal(t, 8, p.AudioTimeline.Version)
}

func TestApplyTimelineResetVideos(t *testing.T) {
	e := &Executor{}
	p := timelineProject()
	shot1, _ := p.FindShot("Shot_1")
	shot1.VideoURL = "/api/uploads/video/s1.mp4"
	shot2, _ := p.FindShot("Shot_2")
	shot2.VideoURL = "/api/uploads/video/s2.mp4"

	tl := BuildTimeline(p)
	tl.Segments[0].Shots[0].Duration = 3.1 // 取整后 3.5，|Δ|=0.5 超阈值
	tl.Segments[0].Shots[1].Duration = 4.0 // 不变

	require.NoError(t, e.ApplyTimeline(context.Background(), p, tl, &TimelineOptions{ResetVideos: true}))
	assert.Empty(t, shot1.VideoURL)
	assert.Equal(t, "/api/uploads/video/s2.mp4", shot2.VideoURL)
}

func TestApplyTimelineRejectsMismatch(t *testing.T) {
	e := &Executor{}

	t.Run("duplicate shot", func(t *testing.T) {
		p := timelineProject()
		tl := BuildTimeline(p)
		tl.Segments[0].Shots[1].ShotID = "Shot_1"
		err := e.ApplyTimeline(context.Background(), p, tl, nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeTimelineMismatch, errors.AsAppError(err).Code)
	})

	t.Run("count differs", func(t *testing.T) {
		p := timelineProject()
		tl := BuildTimeline(p)
		tl.Segments[1].Shots = nil
		err := e.ApplyTimeline(context.Background(), p, tl, nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeTimelineMismatch, errors.AsAppError(err).Code)
	})

	t.Run("order differs", func(t *testing.T) {
		p := timelineProject()
		tl := BuildTimeline(p)
		shots := tl.Segments[0].Shots
		shots[0], shots[1] = shots[1], shots[0]
		err := e.ApplyTimeline(context.Background(), p, tl, nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeTimelineMismatch, errors.AsAppError(err).Code)
	})

	t.Run("project untouched after rejection", func(t *testing.T) {
		p := timelineProject()
		tl := BuildTimeline(p)
		tl.Segments[0].Shots[0].ShotID = "Shot_404"
		tl.Segments[0].Shots[0].Duration = 6.0

		require.Error(t, e.ApplyTimeline(context.Background(), p, tl, nil))
		shot, _ := p.FindShot("Shot_1")
		assert.InDelta(t, 3.0, shot.Duration, 1e-9)
		assert.Nil(t, p.AudioTimeline)
	})
}

func TestApplyTimelineNilArgs(t *testing.T) {
	e := &Executor{}
	assert.Error(t, e.ApplyTimeline(context.Background(), nil, &entity.AudioTimeline{}, nil))
	assert.Error(t, e.ApplyTimeline(context.Background(), timelineProject(), nil, nil))
}
