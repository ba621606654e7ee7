package director

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"storyboard-agent-api/internal/application/keyword"
	"storyboard-agent-api/internal/application/operator"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/workflow/node"
	workflowprompt "storyboard-agent-api/internal/workflow/prompt"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/tracer"
)

// maxChatHistory 带入 LLM 上下文的记忆条数上限
const maxChatHistory = 20

// ChatInput 聊天输入；History 为空时回落到项目的 agent_memory
type ChatInput struct {
	Message     string
	Project     *entity.AgentProject
	History     []*entity.AgentMemoryEntry
	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// ConfirmButton 需要用户确认的 UI 动作
type ConfirmButton struct {
	Action  string         `json:"action"`
	Label   string         `json:"label"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ChatResult 聊天结果：纯文本回复，或附带可确认动作
type ChatResult struct {
	Type          string         `json:"type"` // text
	Scene         keyword.Scene  `json:"scene"`
	Reply         string         `json:"reply"`
	ConfirmButton *ConfirmButton `json:"confirmButton,omitempty"`
	UIHints       map[string]any `json:"ui_hints,omitempty"`
}

// Chat 场景路由聊天。
// 起始帧批量生成的捷径在任何 LLM 调用之前拦截；operator 场景下模型输出
// {reply, actions, ui_hints} 合同，动作经校验后以可确认形式返回，校验失败
// 则退化为文本并提示缩小范围。
func (d *Director) Chat(ctx context.Context, in *ChatInput) (*ChatResult, error) {
	ctx, span := tracer.Start(ctx, "director.Chat")
	defer span.End()

	if in == nil || strings.TrimSpace(in.Message) == "" {
		return nil, errors.New(errors.CodeValidationFailed, "message is required")
	}
	msg := strings.TrimSpace(in.Message)

	if result := frameShortcut(msg, in.Project); result != nil {
		logger.Info(ctx, "frame shortcut taken", "mode", result.ConfirmButton.Payload["mode"])
		return result, nil
	}

	scene := keyword.DetectScene(msg, in.Project != nil)
	msgs, err := d.buildChatMessages(ctx, scene, msg, in)
	if err != nil {
		return nil, err
	}

	chatModel, err := d.factory.Get(ctx, d.provider(in.Provider))
	if err != nil {
		return nil, err
	}
	raw, err := d.generateMessages(ctx, chatModel, d.provider(in.Provider), "chat_"+string(scene), msgs,
		modelOptions(in.Model, in.Temperature, in.MaxTokens))
	if err != nil {
		return nil, err
	}

	var result *ChatResult
	if scene == keyword.SceneOperator && in.Project != nil {
		result = d.operatorChatResult(ctx, msg, raw, in.Project)
	} else {
		result = &ChatResult{Type: "text", Scene: scene, Reply: strings.TrimSpace(raw)}
	}
	result.Scene = scene

	if in.Project != nil {
		in.Project.AppendMemory("user", msg, nil)
		in.Project.AppendMemory("assistant", result.Reply, map[string]string{"scene": string(scene)})
	}
	return result, nil
}

// frameShortcut 起始帧批量生成捷径：命中时不经过 LLM 直接返回可确认动作
func frameShortcut(msg string, project *entity.AgentProject) *ChatResult {
	intent := keyword.DetectFrameShortcut(msg)
	if intent == nil || project == nil {
		return nil
	}
	shots := project.AllShots()
	if len(shots) == 0 {
		return nil
	}

	payload := map[string]any{"mode": intent.Mode}
	var exclude []string
	if intent.ExcludeFirst {
		exclude = append(exclude, shots[0].ID)
	}
	payload["excludeShotIds"] = exclude

	label := "生成缺失的起始帧"
	reply := "将为没有起始帧的分镜生成画面，请确认。"
	if intent.Mode == "regenerate" {
		label = "重新生成起始帧"
		reply = "将重新生成起始帧，请确认。"
		if intent.ExcludeFirst {
			reply = "将重新生成除第一张外的起始帧，请确认。"
		}
	}
	return &ChatResult{
		Type:  "text",
		Reply: reply,
		ConfirmButton: &ConfirmButton{
			Action:  "generate_frames_batch",
			Label:   label,
			Payload: payload,
		},
	}
}

// buildChatMessages 组装聊天消息：护栏 + 场景附录 + 项目快照 + 近期记忆 + 用户消息
func (d *Director) buildChatMessages(ctx context.Context, scene keyword.Scene, msg string, in *ChatInput) ([]*schema.Message, error) {
	guardrail, err := d.prompts.Text(workflowprompt.TextChatGuardrail)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderConfig, "guardrail prompt unavailable")
	}
	addendum, err := d.prompts.Text(sceneTextID(scene))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderConfig, "scene prompt unavailable")
	}

	msgs := []*schema.Message{
		schema.SystemMessage(guardrail),
		schema.SystemMessage(addendum),
	}
	if in.Project != nil {
		msgs = append(msgs, schema.SystemMessage("项目快照（仅事实，不可臆造之外的内容）：\n"+ProjectSnapshot(in.Project)))
	}

	history := in.History
	if history == nil && in.Project != nil {
		history = in.Project.RecentMemory(maxChatHistory)
	}
	if len(history) > maxChatHistory {
		history = history[len(history)-maxChatHistory:]
	}
	for _, h := range history {
		if h == nil || strings.TrimSpace(h.Content) == "" {
			continue
		}
		if h.Role == "assistant" {
			msgs = append(msgs, schema.AssistantMessage(h.Content, nil))
		} else {
			msgs = append(msgs, schema.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, schema.UserMessage(msg))
	return msgs, nil
}

func sceneTextID(scene keyword.Scene) workflowprompt.TextID {
	switch scene {
	case keyword.SceneTechSupport:
		return workflowprompt.TextSceneTechSupport
	case keyword.ScenePromptEng:
		return workflowprompt.TextScenePromptEng
	case keyword.ScenePlanning:
		return workflowprompt.TextScenePlanning
	case keyword.SceneWorkflow:
		return workflowprompt.TextSceneWorkflow
	case keyword.SceneOperator:
		return workflowprompt.TextSceneOperator
	default:
		return workflowprompt.TextSceneGeneralChat
	}
}

// operatorChatResult 解析 operator 场景的 {reply, actions, ui_hints} 合同。
// 动作缺失或校验失败时退化为文本回复。
func (d *Director) operatorChatResult(ctx context.Context, userMsg, raw string, project *entity.AgentProject) *ChatResult {
	var contract struct {
		Reply   string         `json:"reply"`
		Actions []any          `json:"actions"`
		UIHints map[string]any `json:"ui_hints"`
	}
	if _, err := node.DecodeLoose(raw, &contract); err != nil || strings.TrimSpace(contract.Reply) == "" {
		return &ChatResult{Type: "text", Reply: strings.TrimSpace(raw)}
	}

	result := &ChatResult{Type: "text", Reply: strings.TrimSpace(contract.Reply), UIHints: contract.UIHints}
	actions := parseActions(contract.Actions)
	if len(actions) == 0 {
		return result
	}

	edit := &operator.Edit{
		Kind:        operator.EditKindActions,
		Actions:     actions,
		FromChat:    true,
		UserMessage: userMsg,
	}
	if err := operator.ValidateActions(project, edit); err != nil {
		logger.Warn(ctx, "chat actions rejected", "error", err, "actions", len(actions))
		result.Reply += "\n\n（建议的修改未通过安全校验，请缩小修改范围，例如只指定一个分镜或元素。）"
		return result
	}

	label := "应用修改"
	for _, a := range actions {
		if a.Type == operator.ActionRegenerateShot {
			label = "应用修改并重新生成"
			break
		}
	}
	result.ConfirmButton = &ConfirmButton{
		Action:  "apply_actions",
		Label:   label,
		Payload: map[string]any{"actions": contract.Actions, "user_message": userMsg},
	}
	return result
}

// parseActions 把松散解码的动作列表转成 operator 动作
func parseActions(raw []any) []*operator.Action {
	var out []*operator.Action
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		a := &operator.Action{
			Type:      operator.ActionType(strOf(m["type"])),
			ShotID:    strOf(m["shot_id"]),
			ElementID: strOf(m["element_id"]),
			Reason:    strOf(m["reason"]),
		}
		if style := strOf(lookupValue(m, "visual_style", "visualStyle")); style != "" {
			a.VisualStyle = style
		}
		if patch, ok := m["patch"].(map[string]any); ok {
			a.Patch = patch
		}
		out = append(out, a)
	}
	return out
}
