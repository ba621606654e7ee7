package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/config"
	"storyboard-agent-api/internal/domain/entity"
)

// noFFmpeg 预占探测结果，强制走裸 PCM 路径
func noFFmpeg(e *Executor) *Executor {
	e.ffmpegOnce.Do(func() { e.ffmpegPath = "" })
	return e
}

func speechProject() *entity.AgentProject {
	p := entity.NewAgentProject("proj-1", "配音测试")
	p.Elements["Element_GRANDMA"] = &entity.Element{
		ID:           "Element_GRANDMA",
		Name:         "老奶奶",
		Type:         entity.ElementTypeCharacter,
		Description:  "一位白发苍苍的老奶奶",
		VoiceProfile: "BV001",
	}
	p.Elements["Element_BOY"] = &entity.Element{
		ID:          "Element_BOY",
		Name:        "小男孩",
		Type:        entity.ElementTypeCharacter,
		Description: "一个爱提问的小男孩，他总是跑在最前面",
	}
	return p
}

func TestSanitizeSpeechText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[Element_HERO]走进森林。", "走进森林。"},
		{"他说【低声】：别出声。", "他说：别出声。"},
		{"天亮了（镜头拉远", "天亮了"},
		{"  多   余 空白  ", "多 余 空白"},
		{"（旁白）夜色渐深。", "夜色渐深。"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeSpeechText(tt.in), "sanitizeSpeechText(%q)", tt.in)
	}
}

func TestPronounceable(t *testing.T) {
	assert.True(t, pronounceable("你好"))
	assert.True(t, pronounceable("hello"))
	assert.True(t, pronounceable("42"))
	assert.False(t, pronounceable("……！？"))
	assert.False(t, pronounceable(""))
}

func TestBuildUtterances(t *testing.T) {
	e := &Executor{tts: config.TTSConfig{NarratorVoiceType: "BV_NARRATOR"}}
	p := speechProject()
	shot := &entity.Shot{
		ID:             "Shot_1",
		Narration:      "夜色渐深。风停了。",
		DialogueScript: "老奶奶：孩子，回家吧。\n小男孩：再玩一会儿！",
	}

	out := e.buildUtterances(p, shot, &TTSOptions{IncludeNarration: true, IncludeDialogue: true})
	require.Len(t, out, 4)

	assert.Equal(t, utteranceNarration, out[0].Kind)
	assert.Equal(t, "夜色渐深。", out[0].Text)
	assert.Equal(t, "BV_NARRATOR", out[0].Voice)

	assert.Equal(t, utteranceDialogue, out[2].Kind)
	assert.Equal(t, "老奶奶", out[2].Speaker)
	assert.Equal(t, "BV001", out[2].Voice) // 元素自带音色优先

	// 只要旁白
	narrOnly := e.buildUtterances(p, shot, &TTSOptions{IncludeNarration: true})
	assert.Len(t, narrOnly, 2)

	// 不可发音的句子被剔除
	mute := e.buildUtterances(p, &entity.Shot{ID: "Shot_2", Narration: "……！"}, &TTSOptions{IncludeNarration: true})
	assert.Empty(t, mute)
}

func TestNarratorVoice(t *testing.T) {
	e := &Executor{tts: config.TTSConfig{NarratorVoiceType: "BV_NARRATOR"}}
	p := speechProject()

	assert.Equal(t, "BV_NARRATOR", e.narratorVoice(p))

	p.CreativeBrief.NarratorVoiceProfile = "BV_CUSTOM"
	assert.Equal(t, "BV_CUSTOM", e.narratorVoice(p))
}

func TestDialogueVoiceChain(t *testing.T) {
	e := &Executor{tts: config.TTSConfig{
		NarratorVoiceType:       "BV_NARRATOR",
		DialogueVoiceType:       "BV_DIALOGUE",
		DialogueMaleVoiceType:   "BV_MALE",
		DialogueFemaleVoiceType: "BV_FEMALE",
	}}
	p := speechProject()

	// 元素音色直取
	assert.Equal(t, "BV001", e.dialogueVoice(p, "老奶奶", "孩子，回家吧。"))
	// 元素无音色，描述判出男性
	assert.Equal(t, "BV_MALE", e.dialogueVoice(p, "小男孩", "再玩一会儿！"))
	// 无法判性别走台词默认
	assert.Equal(t, "BV_DIALOGUE", e.dialogueVoice(p, "神秘声音", "欢迎。"))

	// 台词默认缺失时兜底旁白
	bare := &Executor{tts: config.TTSConfig{NarratorVoiceType: "BV_NARRATOR"}}
	assert.Equal(t, "BV_NARRATOR", bare.dialogueVoice(p, "神秘声音", "欢迎。"))
}

func TestResolveSpeakerElement(t *testing.T) {
	p := speechProject()

	require.NotNil(t, resolveSpeakerElement(p, "Element_GRANDMA"))
	assert.Equal(t, "Element_GRANDMA", resolveSpeakerElement(p, "Element_GRANDMA").ID)

	// 名称不区分大小写
	el := resolveSpeakerElement(p, "老奶奶")
	require.NotNil(t, el)
	assert.Equal(t, "Element_GRANDMA", el.ID)

	el = resolveSpeakerElement(p, "element_boy")
	require.NotNil(t, el)
	assert.Equal(t, "Element_BOY", el.ID)

	assert.Nil(t, resolveSpeakerElement(p, "路人甲"))
	assert.Nil(t, resolveSpeakerElement(p, "  "))
}

func TestSpeechTargets(t *testing.T) {
	e := &Executor{}
	p := speechProject()
	p.Segments = []*entity.Segment{{
		ID: "Segment_1",
		Shots: []*entity.Shot{
			{ID: "Shot_1", Narration: "有旁白。"},
			{ID: "Shot_2"}, // 无文本，跳过
			{ID: "Shot_3", DialogueScript: "老奶奶：有台词。"},
		},
	}}

	all := e.speechTargets(p, &TTSOptions{})
	require.Len(t, all, 2)
	assert.Equal(t, "Shot_1", all[0].ID)
	assert.Equal(t, "Shot_3", all[1].ID)

	picked := e.speechTargets(p, &TTSOptions{ShotIDs: []string{"Shot_3"}})
	require.Len(t, picked, 1)
	assert.Equal(t, "Shot_3", picked[0].ID)
}

func TestEstimateClipDuration(t *testing.T) {
	t.Run("pcm path uses byte math", func(t *testing.T) {
		e := noFFmpeg(&Executor{tts: config.TTSConfig{Rate: 24000}})
		// 48000 字节 = 1 秒单声道 16bit @24kHz
		assert.Equal(t, 1000, e.estimateClipDuration("随便", 1.0, 48000))
		assert.Equal(t, 500, e.estimateClipDuration("随便", 1.0, 24000))
	})

	t.Run("encoded path falls back to text estimate", func(t *testing.T) {
		e := &Executor{tts: config.TTSConfig{Encoding: "mp3"}}
		e.ffmpegOnce.Do(func() { e.ffmpegPath = "/usr/bin/ffmpeg" })
		// 八个汉字 ≈ 2 秒
		assert.Equal(t, 2000, e.estimateClipDuration("一二三四五六七八", 1.0, 12345))
	})
}

func TestTTSEncodingAndRate(t *testing.T) {
	e := noFFmpeg(&Executor{tts: config.TTSConfig{Encoding: "mp3"}})
	// 无 ffmpeg 强制 PCM，忽略配置编码
	assert.Equal(t, "pcm", e.ttsEncoding())
	assert.Equal(t, 24000, e.ttsRate())

	with := &Executor{tts: config.TTSConfig{Encoding: "ogg_opus", Rate: 16000}}
	with.ffmpegOnce.Do(func() { with.ffmpegPath = "/usr/bin/ffmpeg" })
	assert.Equal(t, "ogg_opus", with.ttsEncoding())
	assert.Equal(t, 16000, with.ttsRate())
}

func TestAudioFileStem(t *testing.T) {
	stem := audioFileStem("proj-1", "Shot_1", "voice")
	assert.Regexp(t, `^proj-1_Shot_1_voice_[a-z0-9]{8}$`, stem)
	assert.NotEqual(t, stem, audioFileStem("proj-1", "Shot_1", "voice"))
}
