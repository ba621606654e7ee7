package director

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"storyboard-agent-api/internal/application/ident"
	"storyboard-agent-api/internal/application/operator"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
)

// Plan 规划结果的规范形态
type Plan struct {
	CreativeBrief entity.CreativeBrief `json:"creative_brief"`
	Elements      []*entity.Element    `json:"elements"`
	Segments      []*entity.Segment    `json:"segments"`
	CostEstimate  map[string]any       `json:"cost_estimate,omitempty"`
}

// AllShots 按段落顺序展开全部分镜
func (p *Plan) AllShots() []*entity.Shot {
	var shots []*entity.Shot
	for _, seg := range p.Segments {
		shots = append(shots, seg.Shots...)
	}
	return shots
}

// ShotIDs 按顺序返回全部分镜 ID
func (p *Plan) ShotIDs() []string {
	shots := p.AllShots()
	ids := make([]string, 0, len(shots))
	for _, s := range shots {
		ids = append(ids, s.ID)
	}
	return ids
}

// NormalizePlan 把 LLM 返回的松散结构归一化为规范形态。
// 兼容 snake_case / camelCase / PascalCase 键名、按名称索引的元素字典、
// 顶层平铺分镜列表；ID 统一铸造为 Element_* / Segment_* / Shot_*。
// 对已规范的输入幂等（除新铸 ID 外不再变化）。
func NormalizePlan(raw any) (*Plan, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New(errors.CodeLLMParseFailed, "plan root is not an object")
	}

	plan := &Plan{}

	if brief, ok := lookupValue(m, "creative_brief", "brief").(map[string]any); ok {
		normalizeBrief(&plan.CreativeBrief, brief)
	}
	// Project_Name 等顶层别名兜底
	if plan.CreativeBrief.Title == "" {
		if title := strOf(lookupValue(m, "project_name", "title", "name")); title != "" {
			plan.CreativeBrief.Title = title
		}
	}

	taken := ident.TakenSet()
	plan.Elements = normalizeElements(lookupValue(m, "elements", "key_elements"), taken)

	segTaken := ident.TakenSet()
	shotTaken := ident.TakenSet()
	if rawSegs, ok := lookupValue(m, "segments").([]any); ok {
		for _, rs := range rawSegs {
			sm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			plan.Segments = append(plan.Segments, normalizeSegment(sm, segTaken, shotTaken))
		}
	} else if rawShots, ok := lookupValue(m, "shots", "shot_list", "storyboard").([]any); ok {
		// 顶层平铺分镜：包进单一段落
		seg := &entity.Segment{
			ID:   ident.EnsureUnique("Segment_1", segTaken),
			Name: plan.CreativeBrief.Title,
		}
		for _, rs := range rawShots {
			shm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			seg.Shots = append(seg.Shots, normalizeShot(shm, shotTaken))
		}
		plan.Segments = append(plan.Segments, seg)
	}

	if len(plan.Segments) == 0 {
		return nil, errors.New(errors.CodeLLMParseFailed, "plan contains no segments")
	}

	if cost, ok := lookupValue(m, "cost_estimate").(map[string]any); ok {
		plan.CostEstimate = cost
	}

	plan.CreativeBrief.AudioWorkflowResolved = plan.CreativeBrief.ResolveAudioWorkflow()
	return plan, nil
}

func normalizeBrief(brief *entity.CreativeBrief, m map[string]any) {
	for k, v := range m {
		key := operator.CanonicalBriefKey(k)
		if key == "" {
			// 未识别的键进入 doctor 提示散列
			if s := strOf(v); s != "" {
				if brief.Hints == nil {
					brief.Hints = make(map[string]string)
				}
				brief.Hints[k] = s
			}
			continue
		}
		brief.SetField(key, coerceScalar(v))
	}
}

// normalizeElements 元素既可能是数组也可能是按名称索引的字典。
// 字典形态下优先取值内的 id 字段，否则用键名作为名称铸造 ID。
func normalizeElements(raw any, taken map[string]struct{}) []*entity.Element {
	var out []*entity.Element
	switch v := raw.(type) {
	case []any:
		for _, re := range v {
			em, ok := re.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, normalizeElement(em, "", taken))
		}
	case map[string]any:
		// 字典按键名排序保证稳定顺序
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, name := range keys {
			em, ok := v[name].(map[string]any)
			if !ok {
				// 值是纯描述字符串
				if desc := strOf(v[name]); desc != "" {
					em = map[string]any{"description": desc}
				} else {
					continue
				}
			}
			out = append(out, normalizeElement(em, name, taken))
		}
	}
	return out
}

func normalizeElement(em map[string]any, dictName string, taken map[string]struct{}) *entity.Element {
	name := strOf(lookupValue(em, "name"))
	if name == "" {
		name = dictName
	}
	rawID := strOf(lookupValue(em, "id", "element_id"))
	id := ident.EnsureUnique(ident.Coerce(ident.ElementPrefix, rawID, name), taken)

	el := &entity.Element{
		ID:          id,
		Name:        name,
		Description: strOf(lookupValue(em, "description", "desc")),
		Prompt:      strOf(lookupValue(em, "prompt", "image_prompt")),
	}
	el.Type = normalizeElementType(strOf(lookupValue(em, "type", "element_type")), id)
	if vp := strOf(lookupValue(em, "voice_profile", "voice_type", "voice")); vp != "" {
		el.VoiceProfile = vp
	}
	return el
}

// normalizeElementType 缺失类型时按 ID 词元推断
func normalizeElementType(raw, id string) entity.ElementType {
	switch entity.ElementType(strings.ToLower(strings.TrimSpace(raw))) {
	case entity.ElementTypeCharacter:
		return entity.ElementTypeCharacter
	case entity.ElementTypeObject:
		return entity.ElementTypeObject
	case entity.ElementTypeScene:
		return entity.ElementTypeScene
	}
	upper := strings.ToUpper(id)
	for _, tok := range []string{"SCENE", "BG", "LOCATION", "ENV", "PLACE"} {
		if strings.Contains(upper, tok) {
			return entity.ElementTypeScene
		}
	}
	for _, tok := range []string{"PROP", "ITEM", "OBJECT", "TOOL"} {
		if strings.Contains(upper, tok) {
			return entity.ElementTypeObject
		}
	}
	return entity.ElementTypeCharacter
}

func normalizeSegment(sm map[string]any, segTaken, shotTaken map[string]struct{}) *entity.Segment {
	name := strOf(lookupValue(sm, "name", "segment_name", "title"))
	rawID := strOf(lookupValue(sm, "id", "segment_id"))
	seg := &entity.Segment{
		ID:          ident.EnsureUnique(ident.Coerce(ident.SegmentPrefix, rawID, name), segTaken),
		Name:        name,
		Description: strOf(lookupValue(sm, "description", "desc")),
	}
	if rawShots, ok := lookupValue(sm, "shots", "shot_list").([]any); ok {
		for _, rs := range rawShots {
			shm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			seg.Shots = append(seg.Shots, normalizeShot(shm, shotTaken))
		}
	}
	return seg
}

func normalizeShot(shm map[string]any, taken map[string]struct{}) *entity.Shot {
	name := strOf(lookupValue(shm, "name", "shot_name", "title"))
	rawID := strOf(lookupValue(shm, "id", "shot_id"))
	shot := &entity.Shot{
		ID:             ident.EnsureUnique(ident.Coerce(ident.ShotPrefix, rawID, name), taken),
		Name:           name,
		Type:           entity.NormalizeShotType(strOf(lookupValue(shm, "type", "shot_type"))),
		Description:    strOf(lookupValue(shm, "description", "desc")),
		Prompt:         strOf(lookupValue(shm, "prompt", "image_prompt", "start_frame_prompt")),
		VideoPrompt:    strOf(lookupValue(shm, "video_prompt", "motion_prompt")),
		Narration:      strOf(lookupValue(shm, "narration", "voiceover")),
		DialogueScript: strOf(lookupValue(shm, "dialogue_script", "dialogue", "dialog")),
		Status:         entity.ShotStatusPending,
	}
	if f, ok := floatOf(lookupValue(shm, "duration", "duration_seconds", "seconds")); ok && f > 0 {
		shot.Duration = entity.RoundDurationUp(f)
	} else {
		shot.Duration = entity.MinShotSeconds
	}
	return shot
}

// lookupValue 键名宽松匹配：忽略大小写、下划线、连字符与空格
func lookupValue(m map[string]any, aliases ...string) any {
	for _, a := range aliases {
		if v, ok := m[a]; ok {
			return v
		}
	}
	want := make(map[string]struct{}, len(aliases))
	for _, a := range aliases {
		want[normKey(a)] = struct{}{}
	}
	// 归一化命中时按排序键保证确定性
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := want[normKey(k)]; ok {
			return m[k]
		}
	}
	return nil
}

func normKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func strOf(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	}
	return ""
}

func floatOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// coerceScalar 把 json.Number 还原为 float64，其余原样返回
func coerceScalar(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
