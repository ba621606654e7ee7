package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateNames(t *testing.T) {
	names := TemplateNames()
	assert.Contains(t, names, "plan_v1.system")
	assert.Contains(t, names, "plan_v1.user")
	assert.Contains(t, names, "chat_guardrail")
	assert.Len(t, names, 7*2+7)
}

func TestChatTemplate(t *testing.T) {
	r := NewRegistry()

	tpl, err := r.ChatTemplate(PromptPlanV1)
	require.NoError(t, err)
	require.NotNil(t, tpl)

	// 二次获取走缓存，返回同一实例
	again, err := r.ChatTemplate(PromptPlanV1)
	require.NoError(t, err)
	assert.Equal(t, tpl, again)

	_, err = r.ChatTemplate(PromptID("nope_v9"))
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	r := NewRegistry()

	for _, id := range []TextID{
		TextChatGuardrail, TextSceneTechSupport, TextScenePromptEng,
		TextScenePlanning, TextSceneWorkflow, TextSceneOperator, TextSceneGeneralChat,
	} {
		text, err := r.Text(id)
		require.NoError(t, err, "Text(%s)", id)
		assert.NotEmpty(t, text)
	}
}

func TestSetOverride(t *testing.T) {
	r := NewRegistry()

	embedded, err := r.Text(TextChatGuardrail)
	require.NoError(t, err)

	r.SetOverride(string(TextChatGuardrail), "自定义守护提示\n")
	got, err := r.Text(TextChatGuardrail)
	require.NoError(t, err)
	assert.Equal(t, "自定义守护提示", got)

	// 空覆盖被忽略
	r2 := NewRegistry()
	r2.SetOverride(string(TextChatGuardrail), "   ")
	got, err = r2.Text(TextChatGuardrail)
	require.NoError(t, err)
	assert.Equal(t, embedded, got)
}

func TestSetOverrideInvalidatesCompiledTemplate(t *testing.T) {
	r := NewRegistry()

	before, err := r.ChatTemplate(PromptDoctorV1)
	require.NoError(t, err)

	r.SetOverride("doctor_v1.system", "你是剧本医生，只输出 JSON。")
	after, err := r.ChatTemplate(PromptDoctorV1)
	require.NoError(t, err)
	assert.NotSame(t, before, after)

	msgs, err := after.Format(context.Background(), map[string]any{
		"plan_snapshot": "{}",
		"focus":         "节奏",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "你是剧本医生，只输出 JSON。", msgs[0].Content)
}
