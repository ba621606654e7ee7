package operator

import (
	"storyboard-agent-api/internal/application/ident"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
)

// ApplyPatch 整体合并补丁（一次性确认路径：整案应用、剧本医生输出等）。
// 未知键忽略；段落/分镜按 ID 合并；新分镜追加到所属段落；新 ID 冲突时后缀 _2、_3…。
// 绝不删除或重命名既有条目。
func ApplyPatch(project *entity.AgentProject, patch map[string]any) (*ApplyResult, error) {
	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if len(patch) == 0 {
		return nil, errors.New(errors.CodeValidationFailed, "empty patch payload")
	}

	result := &ApplyResult{}

	if brief := pickMap(patch, "creative_brief", "creative_brief_patch"); brief != nil {
		for k, v := range brief {
			if ck := CanonicalBriefKey(k); ck != "" {
				project.CreativeBrief.SetField(ck, normalizePatchValue(v))
			}
		}
		project.CreativeBrief.AudioWorkflowResolved = project.CreativeBrief.ResolveAudioWorkflow()
		result.BriefUpdated = true
	}

	for _, raw := range pickList(patch, "elements", "elements_patch") {
		em, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		mergeElement(project, em, result)
	}

	for _, raw := range pickList(patch, "segments", "segments_patch") {
		sm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		mergeSegment(project, sm, result)
	}

	for _, raw := range pickList(patch, "add_shots") {
		sm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		appendShot(project, sm, result)
	}

	return result, nil
}

func mergeElement(project *entity.AgentProject, em map[string]any, result *ApplyResult) {
	id, _ := em["id"].(string)
	el := project.FindElement(id)
	if el == nil {
		// 新元素：按名称铸造 ID，冲突后缀
		name, _ := em["name"].(string)
		taken := ident.TakenSet(elementIDs(project))
		newID := ident.EnsureUnique(ident.Coerce(ident.ElementPrefix, id, name), taken)
		el = &entity.Element{ID: newID, Name: name}
		if project.Elements == nil {
			project.Elements = make(map[string]*entity.Element)
		}
		project.Elements[newID] = el
	}
	if v, ok := em["name"].(string); ok && v != "" {
		el.Name = v
	}
	if v, ok := em["type"].(string); ok && v != "" {
		switch entity.ElementType(v) {
		case entity.ElementTypeCharacter, entity.ElementTypeObject, entity.ElementTypeScene:
			el.Type = entity.ElementType(v)
		}
	}
	if v, ok := em["description"].(string); ok && v != "" {
		el.Description = capString(v)
	}
	if v, ok := em["prompt"].(string); ok && v != "" {
		el.Prompt = capString(v)
	}
	if v, ok := em["voice_profile"].(string); ok && v != "" {
		el.VoiceProfile = v
	}
	result.UpdatedElements = append(result.UpdatedElements, el.ID)
}

func mergeSegment(project *entity.AgentProject, sm map[string]any, result *ApplyResult) {
	id, _ := sm["id"].(string)
	seg := project.FindSegment(id)
	if seg == nil {
		// 按 ID 匹配不到的段落补丁跳过（patch 不新建段落，除非整案应用给全量 segments）
		name, _ := sm["name"].(string)
		if name == "" {
			return
		}
		taken := ident.TakenSet(segmentIDs(project))
		seg = &entity.Segment{ID: ident.EnsureUnique(ident.Coerce(ident.SegmentPrefix, id, name), taken), Name: name}
		project.Segments = append(project.Segments, seg)
	}
	if v, ok := sm["name"].(string); ok && v != "" {
		seg.Name = v
	}
	if v, ok := sm["description"].(string); ok && v != "" {
		seg.Description = v
	}

	shots, _ := sm["shots"].([]any)
	for _, raw := range shots {
		shm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		shotID, _ := shm["id"].(string)
		shot, _ := project.FindShot(shotID)
		if shot == nil {
			// 新分镜追加到本段落尾部
			shm["segment_id"] = seg.ID
			appendShot(project, shm, result)
			continue
		}
		mergeShotFields(shot, shm)
		result.UpdatedShots = append(result.UpdatedShots, shot.ID)
	}
}

func appendShot(project *entity.AgentProject, sm map[string]any, result *ApplyResult) {
	segID, _ := sm["segment_id"].(string)
	seg := project.FindSegment(segID)
	if seg == nil && len(project.Segments) > 0 {
		seg = project.Segments[len(project.Segments)-1]
	}
	if seg == nil {
		return
	}

	name, _ := sm["name"].(string)
	rawID, _ := sm["id"].(string)
	taken := ident.TakenSet(project.ShotIDs())
	shot := &entity.Shot{
		ID:     ident.EnsureUnique(ident.Coerce(ident.ShotPrefix, rawID, name), taken),
		Name:   name,
		Type:   entity.ShotTypeStandard,
		Status: entity.ShotStatusPending,
	}
	mergeShotFields(shot, sm)
	if shot.Duration <= 0 {
		shot.Duration = entity.MinShotSeconds
	}
	shot.Duration = entity.RoundDurationUp(shot.Duration)

	// 锚点之后插入；找不到锚点则追加到段尾
	afterID, _ := sm["after_shot_id"].(string)
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
	result.AppendedShots = append(result.AppendedShots, shot.ID)
}

func mergeShotFields(shot *entity.Shot, sm map[string]any) {
	if v, ok := sm["name"].(string); ok && v != "" {
		shot.Name = v
	}
	if v, ok := sm["type"].(string); ok && v != "" {
		shot.Type = entity.NormalizeShotType(v)
	}
	if f, ok := asFloat(sm["duration"]); ok && f > 0 {
		shot.Duration = f
	}
	if v, ok := sm["description"].(string); ok && v != "" {
		shot.Description = capString(v)
	}
	if v, ok := sm["prompt"].(string); ok && v != "" {
		shot.Prompt = capString(v)
	}
	if v, ok := sm["video_prompt"].(string); ok && v != "" {
		shot.VideoPrompt = capString(v)
	}
	if v, ok := sm["narration"].(string); ok && v != "" {
		shot.Narration = capString(v)
	}
	if v, ok := sm["dialogue_script"].(string); ok && v != "" {
		shot.DialogueScript = capString(v)
	}
}

func pickMap(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func pickList(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}

func elementIDs(project *entity.AgentProject) []string {
	ids := make([]string, 0, len(project.Elements))
	for id := range project.Elements {
		ids = append(ids, id)
	}
	return ids
}

func segmentIDs(project *entity.AgentProject) []string {
	ids := make([]string, 0, len(project.Segments))
	for _, s := range project.Segments {
		ids = append(ids, s.ID)
	}
	return ids
}
