package director

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTargetDuration(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"中文秒", "做一个60秒的宣传片", 60},
		{"中文分钟", "时长2分钟", 120},
		{"中文分秒", "1分30秒的短片", 90},
		{"中文小数分钟", "1.5分钟", 90},
		{"时钟 mm:ss", "目标 01:30 左右", 90},
		{"时钟 hh:mm:ss", "1:02:03", 3723},
		{"英文 seconds", "a 45 seconds teaser", 45},
		{"英文 min sec", "2 min 15 sec", 135},
		{"英文 minutes", "about 3 minutes", 180},
		{"纯数字按秒", "90", 90},
		{"无时长", "讲一个关于猫的故事", 0},
		{"超出上限", "9999999秒", 0},
		{"空串", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseTargetDuration(tt.text), 1e-9)
		})
	}
}

func TestParseTargetDurationMultipleTexts(t *testing.T) {
	// 第一个能解析出的值胜出
	assert.InDelta(t, 60.0, ParseTargetDuration("没有时长", "60秒", "2分钟"), 1e-9)
	assert.InDelta(t, 0.0, ParseTargetDuration("", "没有"), 1e-9)
}

func TestEstimateSpeechSeconds(t *testing.T) {
	// 8 个汉字按 4 字/秒 ≈ 2s
	assert.InDelta(t, 2.0, EstimateSpeechSeconds("一二三四五六七八", 1.0), 1e-9)

	// 英文按 2.7 词/秒
	assert.InDelta(t, 5.0/2.7, EstimateSpeechSeconds("one two three four five", 1.0), 1e-9)

	// 语速系数反比
	slow := EstimateSpeechSeconds("一二三四五六七八", 0.5)
	assert.InDelta(t, 4.0, slow, 1e-9)

	// 省略号与破折号的停顿补偿
	base := EstimateSpeechSeconds("一二三四", 1.0)
	withPause := EstimateSpeechSeconds("一二三四…—", 1.0)
	assert.InDelta(t, base+0.12+0.08, withPause, 1e-9)

	assert.Zero(t, EstimateSpeechSeconds("   ", 1.0))

	// 非法语速回落到 1.0
	assert.InDelta(t,
		EstimateSpeechSeconds("一二三四", 1.0),
		EstimateSpeechSeconds("一二三四", 0),
		1e-9)
}

func TestEstimateShotSpeechSeconds(t *testing.T) {
	narration := "一二三四五六七八" // 2s
	dialogue := "小明: 一二三四\n小红: 五六七八"
	got := EstimateShotSpeechSeconds(narration, dialogue, 1.0)
	// 旁白 2s + 两行台词各 1s（说话人名不计入）
	assert.InDelta(t, 4.0, got, 1e-9)
}
