package operator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"storyboard-agent-api/internal/application/keyword"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
)

const (
	maxActions     = 50
	maxPatchString = 8000
	maxDuration    = 600.0
)

// ValidateActions 校验整批动作；任一失败整批拒绝，不做部分应用。
func ValidateActions(project *entity.AgentProject, edit *Edit) error {
	if project == nil {
		return errors.ErrProjectNotFound
	}
	if len(edit.Actions) == 0 {
		return errors.New(errors.CodeValidationFailed, "empty action list")
	}
	if len(edit.Actions) > maxActions {
		return errors.New(errors.CodeValidationFailed,
			fmt.Sprintf("too many actions: %d > %d", len(edit.Actions), maxActions))
	}

	for i, a := range edit.Actions {
		if a == nil {
			return errors.New(errors.CodeValidationFailed, fmt.Sprintf("action %d is null", i))
		}
		if err := validateOne(project, a); err != nil {
			return err
		}
	}

	if edit.FromChat {
		if err := validateChatScope(edit); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(project *entity.AgentProject, a *Action) error {
	switch a.Type {
	case ActionUpdateShot:
		shot, _ := project.FindShot(a.ShotID)
		if shot == nil {
			return errors.New(errors.CodeValidationFailed,
				fmt.Sprintf("unknown shot: %s", a.ShotID))
		}
		return validatePatch(a.Patch, shotPatchKeys, "shot "+a.ShotID)
	case ActionUpdateElement:
		if project.FindElement(a.ElementID) == nil {
			return errors.New(errors.CodeValidationFailed,
				fmt.Sprintf("unknown element: %s", a.ElementID))
		}
		return validatePatch(a.Patch, elementPatchKeys, "element "+a.ElementID)
	case ActionUpdateBrief:
		if len(a.Patch) == 0 {
			return errors.New(errors.CodeValidationFailed, "empty brief patch")
		}
		for k := range a.Patch {
			if CanonicalBriefKey(k) == "" {
				return errors.New(errors.CodeValidationFailed,
					fmt.Sprintf("unknown brief key: %s", k))
			}
		}
		return nil
	case ActionRegenerateShot:
		shot, _ := project.FindShot(a.ShotID)
		if shot == nil {
			return errors.New(errors.CodeValidationFailed,
				fmt.Sprintf("unknown shot: %s", a.ShotID))
		}
		return nil
	default:
		return errors.New(errors.CodeValidationFailed,
			fmt.Sprintf("unknown action type: %s", a.Type))
	}
}

func validatePatch(patch map[string]any, allowed map[string]struct{}, target string) error {
	if len(patch) == 0 {
		return errors.New(errors.CodeValidationFailed, "empty patch for "+target)
	}
	for k, v := range patch {
		if _, ok := allowed[k]; !ok {
			return errors.New(errors.CodeValidationFailed,
				fmt.Sprintf("patch key %q not allowed for %s", k, target))
		}
		if k == "duration" {
			f, ok := asFloat(v)
			if !ok || f <= 0 || f > maxDuration {
				return errors.New(errors.CodeValidationFailed,
					fmt.Sprintf("invalid duration for %s", target))
			}
			continue
		}
		if s, ok := v.(string); ok {
			if utf8.RuneCountInString(strings.TrimSpace(s)) > maxPatchString {
				return errors.New(errors.CodeValidationFailed,
					fmt.Sprintf("patch value for %s.%s exceeds %d chars", target, k, maxPatchString))
			}
		}
	}
	return nil
}

// validateChatScope 聊天来源编辑的最小范围规则：
// 无批量标记且显式提到的 ID 少于两个时，动作只允许触达一个目标；
// 字段与重新生成需与用户意图关键词对应。
func validateChatScope(edit *Edit) error {
	msg := edit.UserMessage

	multiScope := keyword.HasMultiScopeMarker(msg) || len(keyword.MentionedIDs(msg)) >= 2
	if !multiScope {
		targets := make(map[string]struct{})
		for _, a := range edit.Actions {
			if id := a.TargetID(); id != "" {
				targets[id] = struct{}{}
			}
		}
		if len(targets) > 1 {
			return errors.New(errors.CodeValidationFailed,
				fmt.Sprintf("message targets one item but actions touch %d", len(targets)))
		}
	}

	for _, a := range edit.Actions {
		switch a.Type {
		case ActionRegenerateShot:
			if !keyword.MentionsRegenerate(msg) {
				return errors.New(errors.CodeValidationFailed,
					"regenerate_shot_frame requires an explicit regeneration request")
			}
		case ActionUpdateShot:
			if err := validateFieldIntent(msg, a); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateFieldIntent 字段级白名单：仅当消息提到对应意图时才允许写该字段。
// 同一目标上多字段仍然放行（保持宽松），只拦截与意图完全无关的敏感字段。
func validateFieldIntent(msg string, a *Action) error {
	for k := range a.Patch {
		var ok bool
		switch k {
		case "narration":
			ok = keyword.MentionsNarration(msg)
		case "dialogue_script":
			ok = keyword.MentionsDialogue(msg)
		case "duration":
			ok = keyword.MentionsDuration(msg)
		case "prompt", "video_prompt":
			ok = keyword.MentionsPrompt(msg) || keyword.MentionsDescription(msg)
		case "description":
			ok = true
		default:
			ok = true
		}
		if !ok {
			return errors.New(errors.CodeValidationFailed,
				fmt.Sprintf("field %q not mentioned in the user request", k))
		}
	}
	return nil
}
