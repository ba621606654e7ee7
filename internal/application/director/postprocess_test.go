package director

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/domain/entity"
)

func planWithShots(shots ...*entity.Shot) *Plan {
	return &Plan{
		Segments: []*entity.Segment{
			{ID: "Segment_1", Name: "测试段", Shots: shots},
		},
	}
}

func TestSpeedGrid(t *testing.T) {
	grid := SpeedGrid()
	require.Len(t, grid, 9)
	assert.InDelta(t, 0.85, grid[0], 1e-9)
	assert.InDelta(t, 1.0, grid[3], 1e-9)
	assert.InDelta(t, 1.25, grid[8], 1e-9)
}

func TestPostprocessPlanExtendsToTarget(t *testing.T) {
	var shots []*entity.Shot
	for i := 0; i < 20; i++ {
		shots = append(shots, &entity.Shot{
			ID:        fmt.Sprintf("Shot_%d", i+1),
			Narration: "一二三四。",
			Duration:  2.0,
		})
	}
	plan := planWithShots(shots...)

	result := PostprocessPlan(plan, "做一个60秒的短片")

	assert.InDelta(t, 60.0, result.TargetSeconds, 1e-9)
	assert.Zero(t, result.SplitShots)
	assert.Greater(t, result.ExtendSteps, 0)
	assert.InDelta(t, 60.0, result.TotalSeconds, 60.0*fitGapRatio)
	assert.False(t, result.NeedsDurationFit)
	assert.InDelta(t, result.SpeedRatio, plan.CreativeBrief.TTSSpeedRatio, 1e-9)

	for _, s := range plan.AllShots() {
		assert.LessOrEqual(t, s.Duration, entity.MaxShotSeconds)
		assert.GreaterOrEqual(t, s.Duration, entity.MinShotSeconds)
	}
}

func TestPostprocessPlanSplitsOverlongShot(t *testing.T) {
	narration := strings.Repeat("一二三四五六七八。", 10) // 约 20s 口播
	shot := &entity.Shot{
		ID:        "Shot_LONG",
		Name:      "长镜头",
		Narration: narration,
		Prompt:    "雨夜街道",
		Duration:  6.0,
	}
	plan := planWithShots(shot)

	result := PostprocessPlan(plan, "")
	assert.Equal(t, 1, result.SplitShots)

	shots := plan.AllShots()
	require.Greater(t, len(shots), 1)

	// 第一部分保留父 ID，其余为 _P{k}
	assert.Equal(t, "Shot_LONG", shots[0].ID)
	for i, s := range shots[1:] {
		assert.Equal(t, "Shot_LONG", entity.SplitParentID(s.ID))
		assert.Contains(t, s.ID, "_P")
		_ = i
	}

	// 旁白拆分无丢字
	var joined strings.Builder
	for _, s := range shots {
		joined.WriteString(s.Narration)
	}
	assert.Equal(t, narration, joined.String())

	// 各部分时长在镜头边界内
	for _, s := range shots {
		assert.LessOrEqual(t, s.Duration, entity.MaxShotSeconds)
		assert.GreaterOrEqual(t, s.Duration, entity.MinShotSeconds)
	}
}

func TestPostprocessPlanSplitKeepsSpeakerTurns(t *testing.T) {
	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, "甲: 一二三四五六七八", "乙: 一二三四五六七八")
	}
	shot := &entity.Shot{
		ID:             "Shot_TALK",
		DialogueScript: strings.Join(lines, "\n"),
		Duration:       6.0,
	}
	plan := planWithShots(shot)

	PostprocessPlan(plan, "")

	for _, s := range plan.AllShots() {
		for _, l := range DialogueLines(s.DialogueScript) {
			// 从不跨说话人切开：每行都有完整说话人
			assert.Contains(t, []string{"甲", "乙"}, l.Speaker)
		}
	}
}

func TestPostprocessPlanCapsDeclaredDuration(t *testing.T) {
	// 口播很短、声明时长超上限：不触发拆分，但时长必须收敛到 [2,6]
	plan := planWithShots(&entity.Shot{ID: "Shot_1", Narration: "短句。", Duration: 30})

	result := PostprocessPlan(plan, "")

	assert.Zero(t, result.SplitShots)
	shots := plan.AllShots()
	require.Len(t, shots, 1)
	assert.InDelta(t, entity.MaxShotSeconds, shots[0].Duration, 1e-9)
	assert.InDelta(t, entity.MaxShotSeconds, result.TotalSeconds, 1e-9)
}

func TestPostprocessPlanCapsNormalizedDuration(t *testing.T) {
	raw := decodeLooseJSON(t, `{
		"segments": [
			{"id": "Segment_1", "shots": [
				{"id": "Shot_1", "narration": "短句。", "duration": 12}
			]}
		]
	}`)
	plan, err := NormalizePlan(raw)
	require.NoError(t, err)

	PostprocessPlan(plan, "")

	for _, s := range plan.AllShots() {
		assert.LessOrEqual(t, s.Duration, entity.MaxShotSeconds)
		assert.GreaterOrEqual(t, s.Duration, entity.MinShotSeconds)
	}
}

func TestPostprocessPlanRaisesDurationToSpeech(t *testing.T) {
	// 声明时长低于口播时长时抬高到口播估算（仍在上限内）
	plan := planWithShots(&entity.Shot{ID: "Shot_1", Narration: "一二三四五六七八一二三四五六七八。", Duration: 2.0})

	result := PostprocessPlan(plan, "")

	assert.Zero(t, result.SplitShots)
	// 16 个汉字 ≈ 4s 口播
	assert.InDelta(t, 4.0, plan.AllShots()[0].Duration, 1e-9)
}

func TestPostprocessPlanIdempotent(t *testing.T) {
	narration := strings.Repeat("一二三四五六七八。", 10)
	plan := planWithShots(&entity.Shot{ID: "Shot_1", Narration: narration, Duration: 6.0})

	first := PostprocessPlan(plan, "")
	count := len(plan.AllShots())

	second := PostprocessPlan(plan, "")

	assert.Equal(t, 1, first.SplitShots)
	assert.Zero(t, second.SplitShots)
	assert.Len(t, plan.AllShots(), count)
	assert.InDelta(t, first.TotalSeconds, second.TotalSeconds, 1e-9)
}

func TestNormalizedPromptKey(t *testing.T) {
	a := NormalizedPromptKey("[Element_HERO] 站在 雨夜街道，特写。")
	b := NormalizedPromptKey("[Element_VILLAIN]站在雨夜街道特写")
	assert.Equal(t, a, b) // 元素引用匿名化 + 去标点空白

	assert.NotEqual(t, a, NormalizedPromptKey("晴天草原"))
	assert.Empty(t, NormalizedPromptKey(""))
}

func TestPromptKeyCounts(t *testing.T) {
	shots := []*entity.Shot{
		{ID: "Shot_1", Prompt: "雨夜街道"},
		{ID: "Shot_2", Prompt: "雨夜街道。"},
		{ID: "Shot_3", Description: "晴天草原"}, // prompt 为空回落到描述
	}
	counts := PromptKeyCounts(shots)
	assert.Equal(t, 2, counts[NormalizedPromptKey("雨夜街道")])
	assert.Equal(t, 1, counts[NormalizedPromptKey("晴天草原")])
}

func TestPostprocessPlanDedupesPrompts(t *testing.T) {
	plan := planWithShots(
		&entity.Shot{ID: "Shot_1", Name: "开场", Prompt: "雨夜街道", Narration: "第一镜。", Duration: 3},
		&entity.Shot{ID: "Shot_2", Name: "追逐", Prompt: "雨夜街道", Narration: "第二镜。", Duration: 3},
	)

	PostprocessPlan(plan, "")

	shots := plan.AllShots()
	assert.NotEqual(t,
		NormalizedPromptKey(shots[0].Prompt),
		NormalizedPromptKey(shots[1].Prompt))
}

func TestCompactShotHint(t *testing.T) {
	shot := &entity.Shot{
		Name:      "开场",
		Narration: "[Element_HERO] 夜色渐深，街灯亮起。",
	}
	hint := CompactShotHint(shot)
	assert.Contains(t, hint, "开场")
	assert.NotContains(t, hint, "Element_")
	assert.LessOrEqual(t, len([]rune(hint)), maxHintRunes)
}
