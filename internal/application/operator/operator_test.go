package operator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
)

// memRepo 内存仓储，记录 Save 次数
type memRepo struct {
	saved int
}

func (r *memRepo) Create(context.Context, *entity.AgentProject) error { return nil }
func (r *memRepo) GetByID(context.Context, string) (*entity.AgentProject, error) {
	return nil, nil
}
func (r *memRepo) Save(context.Context, *entity.AgentProject) error { r.saved++; return nil }
func (r *memRepo) List(context.Context, int, int) ([]*entity.AgentProject, error) {
	return nil, nil
}
func (r *memRepo) Delete(context.Context, string) error { return nil }

func testProject() *entity.AgentProject {
	p := entity.NewAgentProject("proj-1", "测试项目")
	p.Elements["Element_HERO"] = &entity.Element{
		ID:   "Element_HERO",
		Name: "主角",
		Type: entity.ElementTypeCharacter,
	}
	p.Segments = []*entity.Segment{
		{
			ID:   "Segment_1",
			Name: "开场",
			Shots: []*entity.Shot{
				{ID: "Shot_1", Name: "第一镜", Narration: "夜色渐深。", Duration: 3},
				{ID: "Shot_2", Name: "第二镜", Duration: 3},
			},
		},
	}
	return p
}

func TestApplyActions(t *testing.T) {
	repo := &memRepo{}
	op := New(repo, nil)
	project := testProject()

	result, err := op.Apply(context.Background(), project, &Edit{
		Kind: EditKindActions,
		Actions: []*Action{
			{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"narration": "  雨停了。 "}},
			{Type: ActionUpdateBrief, Patch: map[string]any{"visual_style": "水彩"}},
			{Type: ActionUpdateElement, ElementID: "Element_HERO", Patch: map[string]any{"voice_profile": "BV700"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Shot_1"}, result.UpdatedShots)
	assert.Equal(t, []string{"Element_HERO"}, result.UpdatedElements)
	assert.True(t, result.BriefUpdated)
	assert.Equal(t, 1, repo.saved)

	shot, _ := project.FindShot("Shot_1")
	assert.Equal(t, "雨停了。", shot.Narration)
	assert.Equal(t, "水彩", project.CreativeBrief.VisualStyle)
	assert.Equal(t, "BV700", project.Elements["Element_HERO"].VoiceProfile)
}

func TestApplyActionsRejectsWholeBatch(t *testing.T) {
	repo := &memRepo{}
	op := New(repo, nil)
	project := testProject()

	_, err := op.Apply(context.Background(), project, &Edit{
		Kind: EditKindActions,
		Actions: []*Action{
			{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"narration": "合法"}},
			{Type: ActionUpdateShot, ShotID: "Shot_404", Patch: map[string]any{"narration": "目标不存在"}},
		},
	})
	require.Error(t, err)

	// 整批拒绝：第一条也不应生效，也不应落库
	shot, _ := project.FindShot("Shot_1")
	assert.Equal(t, "夜色渐深。", shot.Narration)
	assert.Zero(t, repo.saved)
}

func TestValidateActionsPatchKeys(t *testing.T) {
	project := testProject()

	err := ValidateActions(project, &Edit{Actions: []*Action{
		{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"status": "completed"}},
	}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidationFailed, errors.AsAppError(err).Code)

	err = ValidateActions(project, &Edit{Actions: []*Action{
		{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"duration": -1.0}},
	}})
	assert.Error(t, err)

	err = ValidateActions(project, &Edit{Actions: []*Action{
		{Type: ActionUpdateBrief, Patch: map[string]any{"nonsense": "x"}},
	}})
	assert.Error(t, err)
}

func TestValidateChatScope(t *testing.T) {
	project := testProject()

	t.Run("single target message rejects multi-target actions", func(t *testing.T) {
		err := ValidateActions(project, &Edit{
			FromChat:    true,
			UserMessage: "把旁白改得温柔一点",
			Actions: []*Action{
				{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"narration": "a"}},
				{Type: ActionUpdateShot, ShotID: "Shot_2", Patch: map[string]any{"narration": "b"}},
			},
		})
		assert.Error(t, err)
	})

	t.Run("explicit batch marker allows multi-target", func(t *testing.T) {
		err := ValidateActions(project, &Edit{
			FromChat:    true,
			UserMessage: "把全部分镜的旁白改得温柔一点",
			Actions: []*Action{
				{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"narration": "a"}},
				{Type: ActionUpdateShot, ShotID: "Shot_2", Patch: map[string]any{"narration": "b"}},
			},
		})
		assert.NoError(t, err)
	})

	t.Run("two mentioned ids allow two targets", func(t *testing.T) {
		err := ValidateActions(project, &Edit{
			FromChat:    true,
			UserMessage: "调整 Shot_1 和 Shot_2 的旁白",
			Actions: []*Action{
				{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"narration": "a"}},
				{Type: ActionUpdateShot, ShotID: "Shot_2", Patch: map[string]any{"narration": "b"}},
			},
		})
		assert.NoError(t, err)
	})

	t.Run("field must match intent", func(t *testing.T) {
		err := ValidateActions(project, &Edit{
			FromChat:    true,
			UserMessage: "把 Shot_1 的旁白改一下",
			Actions: []*Action{
				{Type: ActionUpdateShot, ShotID: "Shot_1", Patch: map[string]any{"duration": 4.0}},
			},
		})
		assert.Error(t, err)
	})

	t.Run("regenerate requires explicit request", func(t *testing.T) {
		err := ValidateActions(project, &Edit{
			FromChat:    true,
			UserMessage: "Shot_1 的画面不太好",
			Actions:     []*Action{{Type: ActionRegenerateShot, ShotID: "Shot_1"}},
		})
		assert.Error(t, err)

		err = ValidateActions(project, &Edit{
			FromChat:    true,
			UserMessage: "重新生成 Shot_1 的画面",
			Actions:     []*Action{{Type: ActionRegenerateShot, ShotID: "Shot_1"}},
		})
		assert.NoError(t, err)
	})
}

func TestApplyPatchMergeAndAppend(t *testing.T) {
	project := testProject()

	result, err := ApplyPatch(project, map[string]any{
		"creative_brief": map[string]any{"emotional_tone": "温暖"},
		"segments": []any{
			map[string]any{
				"id": "Segment_1",
				"shots": []any{
					map[string]any{"id": "Shot_1", "narration": "新的旁白。"},
					map[string]any{"id": "Shot_NEW", "name": "补充镜头", "duration": 3.2},
				},
			},
		},
	})
	require.NoError(t, err)

	assert.True(t, result.BriefUpdated)
	assert.Equal(t, []string{"Shot_1"}, result.UpdatedShots)
	assert.Equal(t, []string{"Shot_NEW"}, result.AppendedShots)

	shot, _ := project.FindShot("Shot_1")
	assert.Equal(t, "新的旁白。", shot.Narration)
	assert.Equal(t, "温暖", project.CreativeBrief.EmotionalTone)

	// 新分镜追加到段尾，时长向上取半秒
	seg := project.FindSegment("Segment_1")
	require.Len(t, seg.Shots, 3)
	assert.Equal(t, "Shot_NEW", seg.Shots[2].ID)
	assert.InDelta(t, 3.5, seg.Shots[2].Duration, 1e-9)
}

func TestApplyPatchNeverDeletes(t *testing.T) {
	project := testProject()
	before := len(project.AllShots())

	_, err := ApplyPatch(project, map[string]any{
		"segments": []any{
			map[string]any{"id": "Segment_1", "shots": []any{
				map[string]any{"id": "Shot_1", "narration": "只改一个。"},
			}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, project.AllShots(), before)
}

func TestApplyPatchInsertAfterAnchor(t *testing.T) {
	project := testProject()

	result, err := ApplyPatch(project, map[string]any{
		"add_shots": []any{
			map[string]any{
				"segment_id":    "Segment_1",
				"name":          "插入镜头",
				"after_shot_id": "Shot_1",
				"narration":     "插在中间。",
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.AppendedShots, 1)

	seg := project.FindSegment("Segment_1")
	require.Len(t, seg.Shots, 3)
	assert.Equal(t, result.AppendedShots[0], seg.Shots[1].ID)
}

func TestApplyPatchIDCollision(t *testing.T) {
	project := testProject()

	result, err := ApplyPatch(project, map[string]any{
		"add_shots": []any{
			map[string]any{"segment_id": "Segment_1", "id": "shot 1", "name": "撞名镜头"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.AppendedShots, 1)
	// "shot 1" 归一化后与 Shot_1 冲突，后缀去重
	assert.Equal(t, "Shot_1_2", result.AppendedShots[0])
}
