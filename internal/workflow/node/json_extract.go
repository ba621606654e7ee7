// Package node 提供工作流通用节点逻辑
package node

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedAnyRe   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	lineCommentRe = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSONCandidate 从模型输出中截取最可能的 JSON 文本。
// 优先级：```json 围栏 -> 任意围栏 -> 原文 -> 括号匹配的首个 JSON 值。
// 模型可能在 JSON 前后夹杂多余文本，这里只做截取不做修复。
func ExtractJSONCandidate(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		if c := strings.TrimSpace(m[1]); c != "" {
			raw = c
		}
	} else if m := fencedAnyRe.FindStringSubmatch(raw); m != nil {
		if c := strings.TrimSpace(m[1]); looksLikeJSON(c) {
			raw = c
		}
	}

	if looksLikeJSON(raw) {
		return raw
	}
	return firstJSONValue(raw)
}

// firstJSONValue 截取首个括号匹配的 JSON 对象/数组
func firstJSONValue(raw string) string {
	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start := -1
	end := -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

// RepairJSON 对近似 JSON 的文本做保守修复：
// 全角/智能引号归一、去注释、分号改逗号、去尾逗号。
func RepairJSON(s string) string {
	out := s
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"＂", `"`,
	)
	out = replacer.Replace(out)
	out = lineCommentRe.ReplaceAllString(out, "")
	out = blockComment.ReplaceAllString(out, "")
	// 全角标点只在字符串字面量之外归一，避免破坏中文文案
	out = replaceOutsideStrings(out, '：', ':')
	out = replaceOutsideStrings(out, '，', ',')
	out = replaceOutsideStrings(out, ';', ',')
	out = replaceOutsideStrings(out, '；', ',')
	out = trailingComma.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

// replaceOutsideStrings 仅替换字符串字面量之外的字符
func replaceOutsideStrings(s string, old rune, new rune) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			b.WriteRune(r)
			continue
		}
		if r == '"' {
			inString = true
			b.WriteRune(r)
			continue
		}
		if r == old {
			b.WriteRune(new)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SalvageTruncatedJSON 对疑似被截断的 JSON 做闭合救援：
// 先闭合未结束的字符串，再按逆序补齐未闭合的括号。
func SalvageTruncatedJSON(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	var stack []rune
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, r)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	// 悬空的 "key": 需要一个值才能闭合
	trimmed := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(trimmed, ":") {
		b.Reset()
		b.WriteString(trimmed)
		b.WriteString("null")
	} else if strings.HasSuffix(trimmed, ",") {
		b.Reset()
		b.WriteString(strings.TrimSuffix(trimmed, ","))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// DecodeLoose 按 截取 -> 修复 -> 截断救援 的顺序尝试把模型输出解析到 v。
// 返回实际解析成功的 JSON 文本；全部失败时返回首次截取文本与最后的错误。
func DecodeLoose(raw string, v any) (string, error) {
	candidate := ExtractJSONCandidate(raw)
	if err := unmarshalStrictNumber(candidate, v); err == nil {
		return candidate, nil
	}

	repaired := RepairJSON(candidate)
	if err := unmarshalStrictNumber(repaired, v); err == nil {
		return repaired, nil
	}

	salvaged := SalvageTruncatedJSON(repaired)
	err := unmarshalStrictNumber(salvaged, v)
	if err == nil {
		return salvaged, nil
	}
	return candidate, err
}

func unmarshalStrictNumber(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}
