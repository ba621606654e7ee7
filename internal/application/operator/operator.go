package operator

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/domain/repository"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/tracer"
)

// FrameRegenerator 单分镜起始帧重新生成的回调（由 Pipeline Executor 提供）
type FrameRegenerator interface {
	RegenerateFrame(ctx context.Context, project *entity.AgentProject, shotID string, visualStyle string) error
}

// Operator 应用经确认的编辑并持久化一次
type Operator struct {
	repo  repository.AgentProjectRepository
	regen FrameRegenerator
}

// New 创建 Operator；regen 可为 nil（此时 regenerate 动作仅重置状态）
func New(repo repository.AgentProjectRepository, regen FrameRegenerator) *Operator {
	return &Operator{repo: repo, regen: regen}
}

// ApplyResult 应用结果
type ApplyResult struct {
	UpdatedShots    []string `json:"updated_shots,omitempty"`
	UpdatedElements []string `json:"updated_elements,omitempty"`
	BriefUpdated    bool     `json:"brief_updated,omitempty"`
	Regenerated     []string `json:"regenerated,omitempty"`
	AppendedShots   []string `json:"appended_shots,omitempty"`
}

// Apply 校验并应用编辑载荷；整批成功后写库一次。
// 任一校验失败时整批拒绝，项目保持原状。
func (o *Operator) Apply(ctx context.Context, project *entity.AgentProject, edit *Edit) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "operator.Apply")
	defer span.End()

	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if edit == nil {
		return nil, errors.New(errors.CodeValidationFailed, "empty edit payload")
	}

	var result *ApplyResult
	var err error
	switch edit.Kind {
	case EditKindActions:
		result, err = o.applyActions(ctx, project, edit)
	case EditKindPatch:
		result, err = ApplyPatch(project, edit.Patch)
	default:
		return nil, errors.New(errors.CodeValidationFailed, "unknown edit kind: "+string(edit.Kind))
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	project.Touch()
	if o.repo != nil {
		if err := o.repo.Save(ctx, project); err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to persist project")
		}
	}
	logger.Info(ctx, "operator edit applied",
		"kind", edit.Kind,
		"updated_shots", len(result.UpdatedShots),
		"regenerated", len(result.Regenerated),
	)
	return result, nil
}

func (o *Operator) applyActions(ctx context.Context, project *entity.AgentProject, edit *Edit) (*ApplyResult, error) {
	if err := ValidateActions(project, edit); err != nil {
		return nil, err
	}

	// 固定优先级排序：更新在前，重新生成在后
	actions := make([]*Action, len(edit.Actions))
	copy(actions, edit.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actionPriority(actions[i].Type) < actionPriority(actions[j].Type)
	})

	result := &ApplyResult{}
	for _, a := range actions {
		switch a.Type {
		case ActionUpdateShot:
			shot, _ := project.FindShot(a.ShotID)
			applyShotPatch(shot, a.Patch)
			result.UpdatedShots = append(result.UpdatedShots, a.ShotID)
		case ActionUpdateElement:
			el := project.FindElement(a.ElementID)
			applyElementPatch(el, a.Patch)
			result.UpdatedElements = append(result.UpdatedElements, a.ElementID)
		case ActionUpdateBrief:
			for k, v := range a.Patch {
				project.CreativeBrief.SetField(CanonicalBriefKey(k), normalizePatchValue(v))
			}
			project.CreativeBrief.AudioWorkflowResolved = project.CreativeBrief.ResolveAudioWorkflow()
			result.BriefUpdated = true
		case ActionRegenerateShot:
			if err := o.regenerateFrame(ctx, project, a); err != nil {
				return nil, err
			}
			result.Regenerated = append(result.Regenerated, a.ShotID)
		}
	}
	return result, nil
}

func (o *Operator) regenerateFrame(ctx context.Context, project *entity.AgentProject, a *Action) error {
	if o.regen == nil {
		// 无执行器时仅回退状态，由下一次流水线补画
		shot, _ := project.FindShot(a.ShotID)
		shot.StartImageURL = ""
		shot.CachedStartImageURL = ""
		shot.Status = entity.ShotStatusPending
		return nil
	}
	style := a.VisualStyle
	if style == "" {
		style = project.CreativeBrief.VisualStyle
	}
	if err := o.regen.RegenerateFrame(ctx, project, a.ShotID, style); err != nil {
		return errors.Wrap(err, errors.CodeGenerationFailed, "frame regeneration failed for "+a.ShotID)
	}
	return nil
}

func applyShotPatch(shot *entity.Shot, patch map[string]any) {
	for k, v := range patch {
		switch k {
		case "prompt":
			shot.Prompt = capString(v)
		case "video_prompt":
			shot.VideoPrompt = capString(v)
		case "description":
			shot.Description = capString(v)
		case "narration":
			shot.Narration = capString(v)
		case "dialogue_script":
			shot.DialogueScript = capString(v)
		case "duration":
			if f, ok := asFloat(v); ok {
				shot.Duration = f
			}
		}
	}
}

func applyElementPatch(el *entity.Element, patch map[string]any) {
	for k, v := range patch {
		switch k {
		case "description":
			el.Description = capString(v)
		case "voice_profile":
			el.VoiceProfile = capString(v)
		}
	}
}

func capString(v any) string {
	s, _ := v.(string)
	return truncateByRunes(strings.TrimSpace(s), maxPatchString)
}

func truncateByRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

func normalizePatchValue(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
