package director

import (
	"strings"
	"unicode/utf8"
)

// 强句界字符：中英文句号、叹号、问号与分号
const strongBoundaries = "。！？.!?；;"

// 逗号类弱句界，仅在句子过长时退而求其次
const weakBoundaries = "，,、"

var quotePairs = map[rune]rune{
	'「': '」',
	'『': '』',
	'“': '”',
	'"': '"',
	'（': '）',
	'(': ')',
}

// SplitNarrationSentences 按强句界拆分旁白；引号内的内容保持完整。
// 句界符号保留在句尾。
func SplitNarrationSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	var b strings.Builder
	var closing rune // 当前未闭合引号的收尾符，0 表示不在引号内

	for _, r := range text {
		b.WriteRune(r)
		if closing != 0 {
			if r == closing {
				closing = 0
			}
			continue
		}
		if c, ok := quotePairs[r]; ok {
			closing = c
			continue
		}
		if strings.ContainsRune(strongBoundaries, r) {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// splitByWeakBoundaries 按逗号类句界二次拆分（仅在句子过长时使用）
func splitByWeakBoundaries(sentence string) []string {
	var out []string
	var b strings.Builder
	var closing rune

	for _, r := range sentence {
		b.WriteRune(r)
		if closing != 0 {
			if r == closing {
				closing = 0
			}
			continue
		}
		if c, ok := quotePairs[r]; ok {
			closing = c
			continue
		}
		if strings.ContainsRune(weakBoundaries, r) {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// hardWrapByRunes 把超长文本按字符数硬切
func hardWrapByRunes(text string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := maxRunes
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// NarrationChunks 把旁白拆成每块口播时长不超过 maxSeconds 的片段。
// 优先强句界；单句超限时先试逗号，再按字符硬切。
func NarrationChunks(text string, maxSeconds, speedRatio float64) []string {
	sentences := SplitNarrationSentences(text)
	var units []string
	for _, s := range sentences {
		if EstimateSpeechSeconds(s, speedRatio) <= maxSeconds {
			units = append(units, s)
			continue
		}
		for _, part := range splitByWeakBoundaries(s) {
			if EstimateSpeechSeconds(part, speedRatio) <= maxSeconds {
				units = append(units, part)
				continue
			}
			// 硬切上限：按估算公式倒推 maxSeconds 对应的 CJK 字符数
			maxRunes := int(maxSeconds * speedRatio * 4.0)
			if maxRunes < 8 {
				maxRunes = 8
			}
			units = append(units, hardWrapByRunes(part, maxRunes)...)
		}
	}

	// 贪心合并相邻片段，尽量少拆
	var out []string
	var cur strings.Builder
	curSec := 0.0
	for _, u := range units {
		sec := EstimateSpeechSeconds(u, speedRatio)
		if cur.Len() > 0 && curSec+sec > maxSeconds {
			out = append(out, cur.String())
			cur.Reset()
			curSec = 0
		}
		cur.WriteString(u)
		curSec += sec
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// SpeakerLine 一行台词
type SpeakerLine struct {
	Speaker string
	Content string
}

// splitSpeakerLine 解析 "Speaker: line"（支持全角冒号），无说话人时 speaker 为空
func splitSpeakerLine(line string) (string, string) {
	line = strings.TrimSpace(line)
	line = stripListMarker(line)
	if line == "" {
		return "", ""
	}
	for _, sep := range []string{"：", ":"} {
		if idx := strings.Index(line, sep); idx > 0 {
			speaker := strings.TrimSpace(line[:idx])
			content := strings.TrimSpace(line[idx+len(sep):])
			// 说话人名不应过长，防止把正文中的冒号误判为前缀
			if utf8.RuneCountInString(speaker) <= 20 && content != "" {
				return speaker, content
			}
		}
	}
	return "", line
}

// stripListMarker 去掉行首的项目符号与编号
func stripListMarker(line string) string {
	line = strings.TrimLeft(line, "-*•· \t")
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		if (r == '.' || r == '、' || r == ')' || r == '）') && i > 0 {
			return strings.TrimSpace(line[i+utf8.RuneLen(r):])
		}
		break
	}
	return strings.TrimSpace(line)
}

// DialogueLines 解析台词脚本为逐行结构
func DialogueLines(script string) []SpeakerLine {
	var out []SpeakerLine
	for _, raw := range strings.Split(script, "\n") {
		speaker, content := splitSpeakerLine(raw)
		if content == "" {
			continue
		}
		out = append(out, SpeakerLine{Speaker: speaker, Content: content})
	}
	return out
}

// FormatDialogue 把台词行还原为 "Speaker: line" 脚本
func FormatDialogue(lines []SpeakerLine) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if l.Speaker != "" {
			b.WriteString(l.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(l.Content)
	}
	return b.String()
}
