package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectScene(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		hasProject bool
		want       Scene
	}{
		{"edit with project", "把 Shot_1 的旁白改成更温柔的", true, SceneOperator},
		{"edit without project falls through", "把分镜改成夜景", false, SceneGeneralChat},
		{"tech support", "生成视频一直报错 timeout", false, SceneTechSupport},
		{"prompt engineering", "提示词怎么写效果更好", false, ScenePromptEng},
		{"planning", "帮我梳理一下故事线和大纲", false, ScenePlanning},
		{"workflow", "接下来的流程是什么，先做什么", false, SceneWorkflow},
		{"general", "你觉得这个故事怎么样", true, SceneGeneralChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectScene(tt.message, tt.hasProject))
		})
	}
}

func TestIsEditRequest(t *testing.T) {
	assert.True(t, IsEditRequest("修改第一个分镜的台词"))
	assert.True(t, IsEditRequest("Shot_3 不太对"))
	assert.True(t, IsEditRequest("change the narration of the opening"))
	assert.False(t, IsEditRequest("今天天气不错"))
	assert.False(t, IsEditRequest("修改一下我的简历")) // 编辑动词但无项目名词
}

func TestMentionedIDs(t *testing.T) {
	ids := MentionedIDs("把 Shot_1 和 Element_HERO 还有 Shot_1 改一下")
	assert.Equal(t, []string{"Shot_1", "Element_HERO"}, ids)
	assert.Empty(t, MentionedIDs("没有提到任何 ID"))
}

func TestDetectFrameShortcut(t *testing.T) {
	t.Run("missing mode", func(t *testing.T) {
		intent := DetectFrameShortcut("帮我生成所有分镜的起始帧")
		assert.NotNil(t, intent)
		assert.Equal(t, "missing", intent.Mode)
		assert.False(t, intent.ExcludeFirst)
	})

	t.Run("regenerate excluding first", func(t *testing.T) {
		intent := DetectFrameShortcut("除第一张外，重新生成起始帧")
		assert.NotNil(t, intent)
		assert.Equal(t, "regenerate", intent.Mode)
		assert.True(t, intent.ExcludeFirst)
	})

	t.Run("no frame keyword", func(t *testing.T) {
		assert.Nil(t, DetectFrameShortcut("重新生成所有视频"))
	})

	t.Run("no generate verb", func(t *testing.T) {
		assert.Nil(t, DetectFrameShortcut("起始帧是什么意思"))
	})
}

func TestDetectGender(t *testing.T) {
	assert.Equal(t, GenderFemale, DetectGender("一位白发苍苍的老奶奶，她喜欢讲故事"))
	assert.Equal(t, GenderMale, DetectGender("a young man", "he is a king"))
	assert.Equal(t, GenderUnknown, DetectGender("一只橙色的小狐狸"))
}

func TestExtractVisualFeatures(t *testing.T) {
	features := ExtractVisualFeatures("黑色长发的年轻女子，穿红色的外套")
	assert.Contains(t, features, "黑色长发")
	assert.Contains(t, features, "红色的外套")
	assert.Contains(t, features, "年轻")

	en := ExtractVisualFeatures("An old man with silver hair in a blue coat")
	assert.Contains(t, en, "silver hair")
	assert.Contains(t, en, "blue coat")
	assert.Contains(t, en, "old")

	assert.Empty(t, ExtractVisualFeatures("没有可提取的特征"))
}
