package director

import (
	"context"
	"encoding/json"
	"strings"

	"storyboard-agent-api/internal/domain/entity"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/tracer"
)

// ReviseInput 剧本修订类操作的公共输入
type ReviseInput struct {
	Project     *entity.AgentProject
	Focus       string // doctor 的优化侧重点，可为空
	ParentShot  string // split-visuals 的父分镜 ID
	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// ScriptDoctor 剧本医生：LLM 审阅项目并产出修订补丁
// {creative_brief_patch, segments_patch, add_shots}。只返回补丁，应用与
// 持久化由调用方走 Operator 的 patch 路径完成。
func (d *Director) ScriptDoctor(ctx context.Context, in *ReviseInput) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "director.ScriptDoctor")
	defer span.End()

	if in == nil || in.Project == nil {
		return nil, errors.ErrProjectNotFound
	}
	vars := map[string]any{
		"plan_snapshot": ProjectSnapshot(in.Project),
		"focus":         strings.TrimSpace(in.Focus),
	}
	var patch map[string]any
	if _, err := d.callJSON(ctx, in.Provider, in.Model, "doctor",
		workflowprompt.PromptDoctorV1, vars, &patch,
		modelOptions(in.Model, in.Temperature, in.MaxTokens)); err != nil {
		return nil, err
	}
	return sanitizeDoctorPatch(in.Project, patch), nil
}

// sanitizeDoctorPatch 医生补丁只允许触达既有字段与追加分镜；
// segments_patch 中未知的段落/分镜条目被丢弃而不是新建。
func sanitizeDoctorPatch(project *entity.AgentProject, patch map[string]any) map[string]any {
	if len(patch) == 0 {
		return map[string]any{}
	}
	out := map[string]any{}
	if brief, ok := lookupValue(patch, "creative_brief_patch", "creative_brief").(map[string]any); ok {
		out["creative_brief_patch"] = brief
	}
	if segs, ok := lookupValue(patch, "segments_patch", "segments").([]any); ok {
		var kept []any
		for _, rs := range segs {
			sm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			if project.FindSegment(strOf(lookupValue(sm, "id", "segment_id"))) == nil {
				continue
			}
			if shots, ok := lookupValue(sm, "shots").([]any); ok {
				var knownShots []any
				for _, s := range shots {
					shm, ok := s.(map[string]any)
					if !ok {
						continue
					}
					if shot, _ := project.FindShot(strOf(lookupValue(shm, "id", "shot_id"))); shot != nil {
						knownShots = append(knownShots, shm)
					}
				}
				sm["shots"] = knownShots
			}
			kept = append(kept, sm)
		}
		out["segments_patch"] = kept
	}
	if adds, ok := lookupValue(patch, "add_shots").([]any); ok {
		out["add_shots"] = adds
	}
	return out
}

// AssetCompletion 资产补全：让 LLM 为缺少画面定义的分镜补出场景/道具元素
// 与分镜字段补丁。不自动虚构角色。返回的补丁已转换为 Operator patch 形态
// （elements + segments_patch），元素 ID 由应用侧按名称铸造。
func (d *Director) AssetCompletion(ctx context.Context, in *ReviseInput) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "director.AssetCompletion")
	defer span.End()

	if in == nil || in.Project == nil {
		return nil, errors.ErrProjectNotFound
	}
	vars := map[string]any{
		"plan_snapshot": ProjectSnapshot(in.Project),
	}
	var contract struct {
		NewElements []map[string]any `json:"new_elements"`
		ShotPatch   []map[string]any `json:"shot_patch"`
	}
	if _, err := d.callJSON(ctx, in.Provider, in.Model, "asset_completion",
		workflowprompt.PromptAssetCompletionV1, vars, &contract,
		modelOptions(in.Model, in.Temperature, in.MaxTokens)); err != nil {
		return nil, err
	}

	patch := map[string]any{}

	var elements []any
	for _, em := range contract.NewElements {
		// 角色不允许凭空补全
		t := strings.ToLower(strOf(lookupValue(em, "type", "element_type")))
		if t != string(entity.ElementTypeScene) && t != string(entity.ElementTypeObject) {
			continue
		}
		delete(em, "id") // ID 由应用侧按名称铸造，避免模型编造冲突 ID
		elements = append(elements, em)
	}
	if len(elements) > 0 {
		patch["elements"] = elements
	}

	if segs := groupShotPatches(in.Project, contract.ShotPatch, []string{"description", "prompt", "video_prompt"}); len(segs) > 0 {
		patch["segments_patch"] = segs
	}
	return patch, nil
}

// SplitVisuals 拆分组画面差异化：对父分镜及其 _P{n} 部分做逐镜
// {description, prompt, video_prompt} 修订，绝不改动 ID。
func (d *Director) SplitVisuals(ctx context.Context, in *ReviseInput) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "director.SplitVisuals")
	defer span.End()

	if in == nil || in.Project == nil {
		return nil, errors.ErrProjectNotFound
	}
	parentID := entity.SplitParentID(strings.TrimSpace(in.ParentShot))
	group := splitGroupShots(in.Project, parentID)
	if len(group) < 2 {
		return nil, errors.New(errors.CodeShotNotFound, "shot has no split parts: "+parentID)
	}

	groupJSON, err := json.Marshal(splitGroupView(group))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationFailed, "failed to encode split group")
	}
	vars := map[string]any{"split_group": string(groupJSON)}

	var contract struct {
		Shots []map[string]any `json:"shots"`
	}
	if _, err := d.callJSON(ctx, in.Provider, in.Model, "split_visuals",
		workflowprompt.PromptSplitVisualsV1, vars, &contract,
		modelOptions(in.Model, in.Temperature, in.MaxTokens)); err != nil {
		return nil, err
	}

	// 只接受拆分组内的 ID
	allowed := make(map[string]struct{}, len(group))
	for _, s := range group {
		allowed[s.ID] = struct{}{}
	}
	var kept []map[string]any
	for _, shm := range contract.Shots {
		if _, ok := allowed[strOf(lookupValue(shm, "id", "shot_id"))]; ok {
			kept = append(kept, shm)
		}
	}

	patch := map[string]any{}
	if segs := groupShotPatches(in.Project, kept, []string{"description", "prompt", "video_prompt"}); len(segs) > 0 {
		patch["segments_patch"] = segs
	}
	return patch, nil
}

// splitGroupShots 取父分镜与它的全部拆分部分（保持顺序）
func splitGroupShots(project *entity.AgentProject, parentID string) []*entity.Shot {
	var out []*entity.Shot
	for _, s := range project.AllShots() {
		if entity.SplitParentID(s.ID) == parentID {
			out = append(out, s)
		}
	}
	return out
}

func splitGroupView(group []*entity.Shot) []map[string]any {
	out := make([]map[string]any, 0, len(group))
	for _, s := range group {
		out = append(out, map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"duration":    s.Duration,
			"description": s.Description,
			"prompt":      s.Prompt,
			"narration":   s.Narration,
		})
	}
	return out
}

// groupShotPatches 把平铺的分镜补丁按所属段落分组为 segments_patch 形态；
// 未知 ID 或不在白名单内的键被丢弃。
func groupShotPatches(project *entity.AgentProject, patches []map[string]any, allowedKeys []string) []any {
	allowed := make(map[string]struct{}, len(allowedKeys))
	for _, k := range allowedKeys {
		allowed[k] = struct{}{}
	}

	bySegment := make(map[string][]any)
	var order []string
	for _, shm := range patches {
		id := strOf(lookupValue(shm, "id", "shot_id"))
		shot, seg := project.FindShot(id)
		if shot == nil {
			continue
		}
		clean := map[string]any{"id": shot.ID}
		for k := range allowed {
			if v := strOf(lookupValue(shm, k)); v != "" {
				clean[k] = v
			}
		}
		if len(clean) == 1 {
			continue
		}
		if _, seen := bySegment[seg.ID]; !seen {
			order = append(order, seg.ID)
		}
		bySegment[seg.ID] = append(bySegment[seg.ID], clean)
	}

	var out []any
	for _, segID := range order {
		out = append(out, map[string]any{"id": segID, "shots": bySegment[segID]})
	}
	return out
}
