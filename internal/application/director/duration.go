// Package director 实现 LLM 导演：规划、音频驱动后处理、场景化聊天与安全编辑
package director

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// maxTargetSeconds 目标总时长的合理性上限（2 小时）
const maxTargetSeconds = 2 * 60 * 60

var (
	cnMinSecRe  = regexp.MustCompile(`(\d+)\s*分(?:钟)?\s*(\d+)\s*秒`)
	cnMinRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*分钟?`)
	cnSecRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*秒`)
	clockRe     = regexp.MustCompile(`\b(?:(\d{1,2}):)?(\d{1,2}):(\d{2})\b`)
	enMinSecRe  = regexp.MustCompile(`(?i)(\d+)\s*min(?:ute)?s?\s*(?:and\s*)?(\d+)\s*sec(?:ond)?s?`)
	enMinRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*min(?:ute)?s?\b`)
	enSecRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:sec(?:ond)?s?|s)\b`)
)

// ParseTargetDuration 从若干文本中解析目标总时长（秒）。
// 支持 N秒 / N分钟 / 1分30秒 / mm:ss / hh:mm:ss / 英文单位；解析失败返回 0。
func ParseTargetDuration(texts ...string) float64 {
	for _, text := range texts {
		if v := parseDurationText(text); v > 0 {
			return v
		}
	}
	return 0
}

func parseDurationText(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	if m := cnMinSecRe.FindStringSubmatch(text); m != nil {
		min, _ := strconv.ParseFloat(m[1], 64)
		sec, _ := strconv.ParseFloat(m[2], 64)
		return clampTarget(min*60 + sec)
	}
	if m := clockRe.FindStringSubmatch(text); m != nil {
		var h float64
		if m[1] != "" {
			h, _ = strconv.ParseFloat(m[1], 64)
		}
		min, _ := strconv.ParseFloat(m[2], 64)
		sec, _ := strconv.ParseFloat(m[3], 64)
		return clampTarget(h*3600 + min*60 + sec)
	}
	if m := enMinSecRe.FindStringSubmatch(text); m != nil {
		min, _ := strconv.ParseFloat(m[1], 64)
		sec, _ := strconv.ParseFloat(m[2], 64)
		return clampTarget(min*60 + sec)
	}
	if m := cnSecRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return clampTarget(v)
	}
	if m := cnMinRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return clampTarget(v * 60)
	}
	if m := enSecRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return clampTarget(v)
	}
	if m := enMinRe.FindStringSubmatch(text); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		return clampTarget(v * 60)
	}

	// 纯数字视为秒
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return clampTarget(v)
	}
	return 0
}

func clampTarget(v float64) float64 {
	if v <= 0 || v > maxTargetSeconds {
		return 0
	}
	return v
}

// EstimateSpeechSeconds 估算文本的口播时长：
// base = max(cjk/4.0, words/2.7)，省略号 +0.12s，破折号 +0.08s，再除以语速系数。
func EstimateSpeechSeconds(text string, speedRatio float64) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if speedRatio <= 0 {
		speedRatio = 1.0
	}

	cjk := countCJK(text)
	words := countWords(text)

	base := float64(cjk) / 4.0
	if w := float64(words) / 2.7; w > base {
		base = w
	}
	base += 0.12 * float64(strings.Count(text, "…"))
	base += 0.08 * float64(strings.Count(text, "—"))

	return base / speedRatio
}

// EstimateShotSpeechSeconds 估算分镜旁白+台词的总口播时长
func EstimateShotSpeechSeconds(narration, dialogueScript string, speedRatio float64) float64 {
	total := EstimateSpeechSeconds(narration, speedRatio)
	for _, line := range strings.Split(dialogueScript, "\n") {
		_, content := splitSpeakerLine(line)
		total += EstimateSpeechSeconds(content, speedRatio)
	}
	return total
}

func countCJK(s string) int {
	n := 0
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			n++
		}
	}
	return n
}

// countWords 统计非 CJK 的单词数
func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		isWordRune := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '\''
		if isWordRune {
			if !inWord {
				n++
				inWord = true
			}
		} else {
			inWord = false
		}
	}
	return n
}
