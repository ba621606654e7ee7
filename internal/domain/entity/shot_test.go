package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundDurationUp(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, MinShotSeconds},
		{1.3, MinShotSeconds},
		{2.0, 2.0},
		{2.1, 2.5},
		{3.2, 3.5},
		{3.5, 3.5},
		{5.9, 6.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, RoundDurationUp(tt.in), 1e-9, "RoundDurationUp(%v)", tt.in)
	}
}

func TestSplitHelpers(t *testing.T) {
	assert.Equal(t, "Shot_3", SplitParentID("Shot_3_P2"))
	assert.Equal(t, "Shot_3", SplitParentID("Shot_3"))

	assert.True(t, IsSplitPart("Shot_3_P2"))
	assert.False(t, IsSplitPart("Shot_3"))
	assert.False(t, IsSplitPart("Shot_3_Part2"))

	assert.True(t, SameSplitGroup("Shot_3", "Shot_3_P2"))
	assert.True(t, SameSplitGroup("Shot_3_P2", "Shot_3_P3"))
	assert.False(t, SameSplitGroup("Shot_3", "Shot_3"))
	assert.False(t, SameSplitGroup("Shot_3", "Shot_4_P2"))
	// 同名前缀但双方都不是拆分部分
	assert.False(t, SameSplitGroup("Shot_3", "Shot_31"))
}

func TestNormalizeShotType(t *testing.T) {
	assert.Equal(t, ShotTypeCloseup, NormalizeShotType("close-up"))
	assert.Equal(t, ShotTypeCloseup, NormalizeShotType(" CLOSEUP "))
	assert.Equal(t, ShotTypeQuick, NormalizeShotType("quick"))
	assert.Equal(t, ShotTypeStandard, NormalizeShotType("不认识"))
	assert.Equal(t, ShotTypeStandard, NormalizeShotType(""))
}

func TestClearVideo(t *testing.T) {
	s := &Shot{
		StartImageURL: "/api/uploads/image/a.png",
		VideoURL:      "/api/uploads/video/a.mp4",
		VideoTaskID:   "task-1",
		Status:        ShotStatusVideoReady,
	}
	s.ClearVideo()
	assert.Empty(t, s.VideoURL)
	assert.Empty(t, s.VideoTaskID)
	assert.Equal(t, ShotStatusFrameReady, s.Status)

	s.StartImageURL = ""
	s.ClearVideo()
	assert.Equal(t, ShotStatusPending, s.Status)
}

func TestPushStartImage(t *testing.T) {
	s := &Shot{}

	s.PushStartImage("/local/1.png", "https://cdn/1.png")
	assert.Equal(t, "https://cdn/1.png", s.StartImageURL)

	// 无收藏时新图成为当前帧，历史头部为最新
	s.PushStartImage("/local/2.png", "https://cdn/2.png")
	require.Len(t, s.StartImageHistory, 2)
	assert.Equal(t, "https://cdn/2.png", s.StartImageURL)
	assert.Equal(t, "/local/2.png", s.CachedStartImageURL)

	// 收藏钉住当前帧后，新图只进历史
	s.StartImageHistory[0].IsFavorite = true
	s.PushStartImage("/local/3.png", "https://cdn/3.png")
	assert.Equal(t, "https://cdn/2.png", s.StartImageURL)
	require.Len(t, s.StartImageHistory, 3)
}

func TestResolveAudioWorkflow(t *testing.T) {
	tests := []struct {
		name string
		pref AudioWorkflow
		cap  VideoAudioSupport
		want AudioWorkflow
	}{
		{"explicit tts", AudioWorkflowTTSAll, VideoAudioSupported, AudioWorkflowTTSAll},
		{"video dialogue honored", AudioWorkflowVideoDialogue, VideoAudioUnknown, AudioWorkflowVideoDialogue},
		{"video dialogue impossible", AudioWorkflowVideoDialogue, VideoAudioUnsupported, AudioWorkflowTTSAll},
		{"auto with support", AudioWorkflowAuto, VideoAudioSupported, AudioWorkflowVideoDialogue},
		{"auto without confirmation", AudioWorkflowAuto, VideoAudioUnknown, AudioWorkflowTTSAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &CreativeBrief{AudioWorkflowPref: tt.pref, VideoAudioSupported: tt.cap}
			assert.Equal(t, tt.want, b.ResolveAudioWorkflow())
		})
	}
}

func TestCreativeBriefSetField(t *testing.T) {
	b := &CreativeBrief{}

	assert.True(t, b.SetField("visualStyle", "水彩"))
	assert.Equal(t, "水彩", b.VisualStyle)

	assert.True(t, b.SetField("targetDurationSeconds", "90"))
	assert.InDelta(t, 90.0, b.TargetDurationSeconds, 1e-9)

	// 语速限制在网格区间内
	assert.True(t, b.SetField("ttsSpeedRatio", 1.1))
	assert.InDelta(t, 1.1, b.TTSSpeedRatio, 1e-9)
	b.SetField("ttsSpeedRatio", 2.0)
	assert.InDelta(t, 1.1, b.TTSSpeedRatio, 1e-9)

	assert.True(t, b.SetField("audioWorkflowPreference", "tts_all"))
	assert.Equal(t, AudioWorkflowTTSAll, b.AudioWorkflowPref)
	b.SetField("audioWorkflowPreference", "nonsense")
	assert.Equal(t, AudioWorkflowTTSAll, b.AudioWorkflowPref)

	assert.False(t, b.SetField("unknownKey", "x"))
}

func TestAgentMemoryWindow(t *testing.T) {
	p := NewAgentProject("proj-1", "记忆测试")
	for i := 0; i < maxAgentMemoryEntries+5; i++ {
		p.AppendMemory("user", "msg", nil)
	}
	assert.Len(t, p.AgentMemory, maxAgentMemoryEntries)

	p.AgentMemory = nil
	p.AppendMemory("user", "第一条", nil)
	p.AppendMemory("assistant", "第二条", nil)
	recent := p.RecentMemory(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "第二条", recent[0].Content)
	assert.Nil(t, p.RecentMemory(0))
}
