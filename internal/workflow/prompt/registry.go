// Package prompt 提供嵌入式提示词模板注册表
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptPlanV1            PromptID = "plan_v1"
	PromptStrictJSONV1      PromptID = "strict_json_v1"
	PromptDurationFitV1     PromptID = "duration_fit_v1"
	PromptDoctorV1          PromptID = "doctor_v1"
	PromptAssetCompletionV1 PromptID = "asset_completion_v1"
	PromptSplitVisualsV1    PromptID = "split_visuals_v1"
	PromptElementImageV1    PromptID = "element_image_v1"
)

// TextID 单段文本（非对话模板）
type TextID string

const (
	TextChatGuardrail     TextID = "chat_guardrail"
	TextSceneTechSupport  TextID = "scene_tech_support"
	TextScenePromptEng    TextID = "scene_prompt_engineering"
	TextScenePlanning     TextID = "scene_project_planning"
	TextSceneWorkflow     TextID = "scene_workflow"
	TextSceneOperator     TextID = "scene_operator"
	TextSceneGeneralChat  TextID = "scene_general_chat"
)

type Registry struct {
	mu        sync.RWMutex
	cache     map[PromptID]einoprompt.ChatTemplate
	texts     map[TextID]string
	overrides map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		cache:     make(map[PromptID]einoprompt.ChatTemplate),
		texts:     make(map[TextID]string),
		overrides: make(map[string]string),
	}
}

// TemplateNames 返回全部可覆盖的模板名，与嵌入文件名（去 .txt）一致
func TemplateNames() []string {
	ids := []PromptID{
		PromptPlanV1, PromptStrictJSONV1, PromptDurationFitV1, PromptDoctorV1,
		PromptAssetCompletionV1, PromptSplitVisualsV1, PromptElementImageV1,
	}
	textIDs := []TextID{
		TextChatGuardrail, TextSceneTechSupport, TextScenePromptEng,
		TextScenePlanning, TextSceneWorkflow, TextSceneOperator, TextSceneGeneralChat,
	}

	names := make([]string, 0, len(ids)*2+len(textIDs))
	for _, id := range ids {
		names = append(names, string(id)+".system", string(id)+".user")
	}
	for _, id := range textIDs {
		names = append(names, string(id))
	}
	return names
}

// SetOverride 用外部文本覆盖嵌入模板；空文本视为无覆盖
func (r *Registry) SetOverride(name, text string) {
	text = strings.TrimSpace(text)
	if name == "" || text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = text
	// 已编译的模板可能引用旧文本，整体失效
	r.cache = make(map[PromptID]einoprompt.ChatTemplate)
	r.texts = make(map[TextID]string)
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	systemPath, userPath, err := resolvePromptFiles(id)
	if err != nil {
		return nil, err
	}
	system, err := r.readText(systemPath)
	if err != nil {
		return nil, err
	}
	user, err := r.readText(userPath)
	if err != nil {
		return nil, err
	}

	tpl := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Text 读取单段嵌入文本
func (r *Registry) Text(id TextID) (string, error) {
	if r == nil {
		return "", fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if t, ok := r.texts[id]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.texts[id]; ok {
		return t, nil
	}

	t, err := r.readText(fmt.Sprintf("templates/%s.txt", id))
	if err != nil {
		return "", err
	}
	r.texts[id] = t
	return t, nil
}

func resolvePromptFiles(id PromptID) (systemFile string, userFile string, err error) {
	switch id {
	case PromptPlanV1, PromptStrictJSONV1, PromptDurationFitV1, PromptDoctorV1,
		PromptAssetCompletionV1, PromptSplitVisualsV1, PromptElementImageV1:
		return fmt.Sprintf("templates/%s.system.txt", id),
			fmt.Sprintf("templates/%s.user.txt", id), nil
	default:
		return "", "", fmt.Errorf("unknown prompt id: %s", id)
	}
}

// readText 先查覆盖文本，再回落嵌入文件；调用方持有 r.mu
func (r *Registry) readText(path string) (string, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(path, "templates/"), ".txt")
	if t, ok := r.overrides[name]; ok {
		return t, nil
	}
	return readEmbeddedText(path)
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
