package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/domain/entity"
)

func promptProject() *entity.AgentProject {
	p := entity.NewAgentProject("proj-1", "提示词测试")
	p.CreativeBrief.VisualStyle = "水彩插画风"
	p.Elements["Element_GIRL"] = &entity.Element{
		ID:          "Element_GIRL",
		Name:        "小女孩",
		Type:        entity.ElementTypeCharacter,
		Description: "黑色长发的年轻女孩，穿红色的外套",
		ImageURL:    "/api/uploads/image/girl.png",
	}
	p.Elements["Element_FOREST"] = &entity.Element{
		ID:          "Element_FOREST",
		Name:        "迷雾森林",
		Type:        entity.ElementTypeScene,
		Description: "晨雾笼罩的松树林",
	}
	p.Segments = []*entity.Segment{{
		ID: "Segment_1",
		Shots: []*entity.Shot{
			{ID: "Shot_1", Prompt: "[Element_GIRL]站在[Element_FOREST]入口", StartImageURL: "/api/uploads/image/s1.png"},
			{ID: "Shot_2", Prompt: "[Element_GIRL]回头张望"},
		},
	}}
	return p
}

func TestResolveElementTags(t *testing.T) {
	p := promptProject()

	got := resolveElementTags(p, "[Element_GIRL]站在[Element_FOREST]入口")
	assert.Equal(t, "小女孩 (黑色长发的年轻女孩，穿红色的外套)站在迷雾森林 (晨雾笼罩的松树林)入口", got)

	// 未知元素原样保留
	assert.Equal(t, "[Element_GHOST]出现", resolveElementTags(p, "[Element_GHOST]出现"))

	// 无描述只展开名称
	p.Elements["Element_FOREST"].Description = ""
	assert.Equal(t, "迷雾森林深处", resolveElementTags(p, "[Element_FOREST]深处"))
}

func TestReferencedElements(t *testing.T) {
	p := promptProject()

	refs := referencedElements(p, "[Element_GIRL]和[Element_FOREST]，再次[Element_GIRL]")
	require.Len(t, refs, 2)
	assert.Equal(t, "Element_GIRL", refs[0].ID)
	assert.Equal(t, "Element_FOREST", refs[1].ID)

	assert.Empty(t, referencedElements(p, "没有引用"))
}

func TestConsistencyPhrase(t *testing.T) {
	p := promptProject()

	phrase := consistencyPhrase([]*entity.Element{p.Elements["Element_GIRL"], p.Elements["Element_FOREST"]})
	assert.True(t, strings.HasPrefix(phrase, "maintaining character consistency: "))
	assert.Contains(t, phrase, "小女孩 with ")
	assert.Contains(t, phrase, "黑色长发")
	// 场景元素不参与角色一致性
	assert.NotContains(t, phrase, "迷雾森林")

	assert.Empty(t, consistencyPhrase(nil))
	assert.Empty(t, consistencyPhrase([]*entity.Element{p.Elements["Element_FOREST"]}))
}

func TestBuildFramePrompt(t *testing.T) {
	p := promptProject()
	shot, _ := p.FindShot("Shot_1")

	fp := BuildFramePrompt(p, shot, nil)
	assert.NotContains(t, fp.Prompt, "[Element_")
	assert.Contains(t, fp.Prompt, "小女孩 (黑色长发的年轻女孩，穿红色的外套)")
	assert.Contains(t, fp.Prompt, "水彩插画风")
	assert.Contains(t, fp.Prompt, "cinematic composition")
	assert.True(t, strings.HasSuffix(fp.Prompt, "high quality, detailed"))
	assert.Equal(t, frameNegativePrompt, fp.NegativePrompt)
	assert.Equal(t, []string{"/api/uploads/image/girl.png"}, fp.ReferenceImages)
}

func TestBuildFramePromptFallsBackToDescription(t *testing.T) {
	p := promptProject()
	shot := &entity.Shot{ID: "Shot_3", Description: "空镜：晨光洒进森林"}
	p.Segments[0].Shots = append(p.Segments[0].Shots, shot)

	fp := BuildFramePrompt(p, shot, nil)
	assert.Contains(t, fp.Prompt, "空镜：晨光洒进森林")
}

func TestNeedsHint(t *testing.T) {
	p := promptProject()

	t.Run("plain shot without duplicates", func(t *testing.T) {
		shot, _ := p.FindShot("Shot_1")
		assert.False(t, needsHint(p, shot, shot.Prompt, nil))
	})

	t.Run("split part", func(t *testing.T) {
		assert.True(t, needsHint(p, &entity.Shot{ID: "Shot_9_P2"}, "x", nil))
	})

	t.Run("split group sibling", func(t *testing.T) {
		p2 := promptProject()
		p2.Segments[0].Shots = append(p2.Segments[0].Shots, &entity.Shot{ID: "Shot_1_P2"})
		shot, _ := p2.FindShot("Shot_1")
		assert.True(t, needsHint(p2, shot, shot.Prompt, nil))
	})

	t.Run("duplicated prompt key", func(t *testing.T) {
		shot, _ := p.FindShot("Shot_1")
		counts := map[string]int{director.NormalizedPromptKey(shot.Prompt): 2}
		assert.True(t, needsHint(p, shot, shot.Prompt, counts))
	})
}

func TestFrameReferenceImages(t *testing.T) {
	t.Run("priority element then shot then previous frame", func(t *testing.T) {
		p := promptProject()
		shot, _ := p.FindShot("Shot_2")
		shot.ReferenceImages = []string{"/api/uploads/image/ref.png"}

		refs := frameReferenceImages(p, shot, referencedElements(p, shot.Prompt))
		assert.Equal(t, []string{
			"/api/uploads/image/girl.png",
			"/api/uploads/image/ref.png",
			"/api/uploads/image/s1.png",
		}, refs)
	})

	t.Run("split sibling frame excluded", func(t *testing.T) {
		p := promptProject()
		p.Segments[0].Shots = []*entity.Shot{
			{ID: "Shot_1", StartImageURL: "/api/uploads/image/s1.png"},
			{ID: "Shot_1_P2", Prompt: "延续画面"},
		}
		shot, _ := p.FindShot("Shot_1_P2")
		refs := frameReferenceImages(p, shot, nil)
		assert.NotContains(t, refs, "/api/uploads/image/s1.png")
	})

	t.Run("first shot has no previous frame", func(t *testing.T) {
		p := promptProject()
		shot, _ := p.FindShot("Shot_1")
		assert.Nil(t, previousShotInSegment(p, shot))
	})
}

func TestCompactNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, compactNonEmpty([]string{"a", "  ", "", "b"}))
}
