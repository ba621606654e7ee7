package director

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitNarrationSentences(t *testing.T) {
	t.Run("strong boundaries", func(t *testing.T) {
		got := SplitNarrationSentences("第一句。第二句！第三句？")
		assert.Equal(t, []string{"第一句。", "第二句！", "第三句？"}, got)
	})

	t.Run("quoted content stays intact", func(t *testing.T) {
		got := SplitNarrationSentences("他说「今天。明天。」然后离开。")
		assert.Equal(t, []string{"他说「今天。明天。」然后离开。"}, got)
	})

	t.Run("trailing text without boundary", func(t *testing.T) {
		got := SplitNarrationSentences("第一句。没有句号的尾巴")
		assert.Equal(t, []string{"第一句。", "没有句号的尾巴"}, got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, SplitNarrationSentences("   "))
	})
}

func TestDialogueLines(t *testing.T) {
	script := "小明: 你好\n- 小红：早上好\n没有说话人的独白\n\n3. 小刚: 出发"
	got := DialogueLines(script)

	assert.Equal(t, []SpeakerLine{
		{Speaker: "小明", Content: "你好"},
		{Speaker: "小红", Content: "早上好"},
		{Speaker: "", Content: "没有说话人的独白"},
		{Speaker: "小刚", Content: "出发"},
	}, got)
}

func TestDialogueLinesLongPrefixNotSpeaker(t *testing.T) {
	// 超过 20 字符的冒号前缀按正文处理，不视为说话人
	line := strings.Repeat("很", 25) + "：后半句"
	got := DialogueLines(line)
	assert.Len(t, got, 1)
	assert.Empty(t, got[0].Speaker)
}

func TestFormatDialogueRoundTrip(t *testing.T) {
	lines := []SpeakerLine{
		{Speaker: "小明", Content: "你好"},
		{Speaker: "", Content: "独白"},
	}
	script := FormatDialogue(lines)
	assert.Equal(t, "小明: 你好\n独白", script)
	assert.Equal(t, lines, DialogueLines(script))
}

func TestNarrationChunks(t *testing.T) {
	// 每句 2s，上限 3s：贪心合并后每块最多一整句
	text := "一二三四五六七八。一二三四五六七八。一二三四五六七八。"
	chunks := NarrationChunks(text, 3.0, 1.0)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateSpeechSeconds(c, 1.0), 3.0)
	}

	// 上限充裕时合并为一块
	assert.Len(t, NarrationChunks(text, 10.0, 1.0), 1)
}

func TestNarrationChunksHardWrap(t *testing.T) {
	// 无句界的超长文本退化到按字符硬切
	long := strings.Repeat("长", 60)
	chunks := NarrationChunks(long, 2.0, 1.0)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, long, strings.Join(chunks, ""))
}
