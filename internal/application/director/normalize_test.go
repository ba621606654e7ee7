package director

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/domain/entity"
)

func decodeLooseJSON(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestNormalizePlanLooseKeys(t *testing.T) {
	raw := decodeLooseJSON(t, `{
		"CreativeBrief": {
			"Title": "雨夜",
			"visual_style": "水彩",
			"target_duration_seconds": 60,
			"unknown_field": "记在提示里"
		},
		"Elements": [
			{"Name": "老人", "Description": "白发男人", "element_id": "old man"}
		],
		"segments": [
			{
				"segment_name": "开场",
				"ShotList": [
					{"shot_id": "1", "Narration": "夜色渐深。", "DurationSeconds": 3.2},
					{"name": "特写", "dialog": "老人: 该走了", "type": "closeup"}
				]
			}
		]
	}`)

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)

	assert.Equal(t, "雨夜", plan.CreativeBrief.Title)
	assert.Equal(t, "水彩", plan.CreativeBrief.VisualStyle)
	assert.InDelta(t, 60.0, plan.CreativeBrief.TargetDurationSeconds, 1e-9)
	assert.Equal(t, "记在提示里", plan.CreativeBrief.Hints["unknown_field"])

	require.Len(t, plan.Elements, 1)
	assert.Equal(t, "Element_OLD_MAN", plan.Elements[0].ID)
	assert.Equal(t, "老人", plan.Elements[0].Name)

	require.Len(t, plan.Segments, 1)
	seg := plan.Segments[0]
	assert.Equal(t, "开场", seg.Name)
	require.Len(t, seg.Shots, 2)

	assert.Equal(t, "Shot_1", seg.Shots[0].ID)
	assert.Equal(t, "夜色渐深。", seg.Shots[0].Narration)
	assert.InDelta(t, 3.5, seg.Shots[0].Duration, 1e-9) // 向上取半秒

	assert.Equal(t, entity.ShotTypeCloseup, seg.Shots[1].Type)
	assert.Equal(t, "老人: 该走了", seg.Shots[1].DialogueScript)
	assert.InDelta(t, entity.MinShotSeconds, seg.Shots[1].Duration, 1e-9)
}

func TestNormalizePlanElementDict(t *testing.T) {
	raw := decodeLooseJSON(t, `{
		"elements": {
			"森林": {"description": "深绿色的森林", "type": "scene"},
			"小狐狸": "一只橙色的小狐狸"
		},
		"shots": [
			{"description": "狐狸穿过森林"}
		]
	}`)

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)

	require.Len(t, plan.Elements, 2)
	// 字典按键名字节序排序："小狐狸" 在 "森林" 之前
	assert.Equal(t, "一只橙色的小狐狸", plan.Elements[0].Description)
	assert.Equal(t, entity.ElementTypeScene, plan.Elements[1].Type)

	// 顶层平铺分镜包进单一段落
	require.Len(t, plan.Segments, 1)
	assert.Equal(t, "Segment_1", plan.Segments[0].ID)
	require.Len(t, plan.Segments[0].Shots, 1)
}

func TestNormalizePlanErrors(t *testing.T) {
	_, err := NormalizePlan("not an object")
	assert.Error(t, err)

	_, err = NormalizePlan(map[string]any{"creative_brief": map[string]any{"title": "空"}})
	assert.Error(t, err) // 没有任何段落
}

func TestNormalizePlanIdempotent(t *testing.T) {
	raw := decodeLooseJSON(t, `{
		"creative_brief": {"title": "测试"},
		"elements": [{"id": "Element_HERO", "name": "主角"}],
		"segments": [
			{"id": "Segment_1", "name": "开场", "shots": [
				{"id": "Shot_1", "narration": "第一镜。", "duration": 3.0}
			]}
		]
	}`)

	plan, err := NormalizePlan(raw)
	require.NoError(t, err)

	// 规范输入再跑一遍，ID 与时长不变
	again, err := NormalizePlan(decodeLooseJSON(t, mustJSON(t, plan)))
	require.NoError(t, err)
	assert.Equal(t, plan.ShotIDs(), again.ShotIDs())
	assert.Equal(t, plan.Elements[0].ID, again.Elements[0].ID)
	assert.InDelta(t, plan.Segments[0].Shots[0].Duration, again.Segments[0].Shots[0].Duration, 1e-9)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
