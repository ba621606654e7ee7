package pipeline

import (
	"regexp"
	"strings"
	"time"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/keyword"
	"storyboard-agent-api/internal/domain/entity"
)

var elementTagRe = regexp.MustCompile(`\[\s*(Element_[A-Za-z0-9_]+)\s*\]`)

// frameNegativePrompt 起始帧的负面提示词
const frameNegativePrompt = "blurry, distorted, inconsistent character, different art style, " +
	"low quality, watermark, text, subtitles, extra limbs, deformed hands"

// FramePrompt 起始帧生成的完整请求素材
type FramePrompt struct {
	Prompt          string
	NegativePrompt  string
	ReferenceImages []string
}

// BuildFramePrompt 组装分镜起始帧的提示词与参考图。
// promptKeyCounts 为全计划的提示词重复统计（director.PromptKeyCounts），
// 用于决定是否追加差异化提示。
func BuildFramePrompt(project *entity.AgentProject, shot *entity.Shot, promptKeyCounts map[string]int) *FramePrompt {
	base := shot.Prompt
	if strings.TrimSpace(base) == "" {
		base = shot.Description
	}

	refs := referencedElements(project, base)
	resolved := resolveElementTags(project, base)

	var parts []string
	parts = append(parts, resolved)

	if needsHint(project, shot, base, promptKeyCounts) {
		if hint := director.CompactShotHint(shot); hint != "" {
			parts = append(parts, "("+hint+")")
		}
	}
	if consistency := consistencyPhrase(refs); consistency != "" {
		parts = append(parts, consistency)
	}
	if style := strings.TrimSpace(project.CreativeBrief.VisualStyle); style != "" {
		parts = append(parts, style)
	}
	parts = append(parts,
		"cinematic composition",
		"consistent character design",
		"same art style throughout",
		"high quality",
		"detailed",
	)

	return &FramePrompt{
		Prompt:          strings.Join(compactNonEmpty(parts), ", "),
		NegativePrompt:  frameNegativePrompt,
		ReferenceImages: frameReferenceImages(project, shot, refs),
	}
}

// resolveElementTags 把 [Element_X] 展开为 "Name (description)"
func resolveElementTags(project *entity.AgentProject, text string) string {
	return elementTagRe.ReplaceAllStringFunc(text, func(tag string) string {
		m := elementTagRe.FindStringSubmatch(tag)
		el := project.FindElement(m[1])
		if el == nil {
			return tag
		}
		if desc := strings.TrimSpace(el.Description); desc != "" {
			return el.Name + " (" + desc + ")"
		}
		return el.Name
	})
}

// referencedElements 提取文本引用到的元素（保持出现顺序，去重）
func referencedElements(project *entity.AgentProject, text string) []*entity.Element {
	seen := make(map[string]struct{})
	var out []*entity.Element
	for _, m := range elementTagRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if el := project.FindElement(id); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// consistencyPhrase 从被引用角色的描述提取关键视觉特征，拼出一致性短语
func consistencyPhrase(refs []*entity.Element) string {
	var entries []string
	for _, el := range refs {
		if el.Type != entity.ElementTypeCharacter {
			continue
		}
		features := keyword.ExtractVisualFeatures(el.Description)
		if len(features) == 0 {
			continue
		}
		entries = append(entries, el.Name+" with "+strings.Join(features, ", "))
	}
	if len(entries) == 0 {
		return ""
	}
	return "maintaining character consistency: " + strings.Join(entries, "; ")
}

// needsHint 拆分组成员或提示词重复 ≥2 次的分镜需要差异化提示
func needsHint(project *entity.AgentProject, shot *entity.Shot, base string, counts map[string]int) bool {
	if entity.IsSplitPart(shot.ID) {
		return true
	}
	for _, other := range project.AllShots() {
		if entity.SameSplitGroup(shot.ID, other.ID) {
			return true
		}
	}
	if counts == nil {
		return false
	}
	return counts[director.NormalizedPromptKey(base)] >= 2
}

// frameReferenceImages 参考图优先级：元素图 -> 分镜级参考图 -> 同段落前一分镜起始帧。
// 同一拆分组的前镜不作为参考，避免组内画面互相钉死。
func frameReferenceImages(project *entity.AgentProject, shot *entity.Shot, refs []*entity.Element) []string {
	var candidates []string
	for _, el := range refs {
		if el.ImageURL != "" {
			candidates = append(candidates, el.ImageURL)
		} else if el.CachedImageURL != "" {
			candidates = append(candidates, el.CachedImageURL)
		}
		candidates = append(candidates, el.ReferenceImages...)
	}
	candidates = append(candidates, shot.ReferenceImages...)

	if prev := previousShotInSegment(project, shot); prev != nil &&
		!entity.SameSplitGroup(prev.ID, shot.ID) && prev.StartImageURL != "" {
		candidates = append(candidates, prev.StartImageURL)
	}

	return FilterReferenceImages(candidates, time.Now())
}

func previousShotInSegment(project *entity.AgentProject, shot *entity.Shot) *entity.Shot {
	_, seg := project.FindShot(shot.ID)
	if seg == nil {
		return nil
	}
	for i, s := range seg.Shots {
		if s.ID == shot.ID {
			if i == 0 {
				return nil
			}
			return seg.Shots[i-1]
		}
	}
	return nil
}

func compactNonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
