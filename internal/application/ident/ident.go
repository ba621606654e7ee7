// Package ident 提供稳定 ID 的铸造与归一化
package ident

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ElementPrefix = "Element_"
	SegmentPrefix = "Segment_"
	ShotPrefix    = "Shot_"
)

var (
	slugInvalidRe = regexp.MustCompile(`[^A-Za-z0-9]+`)
	multiUnderRe  = regexp.MustCompile(`_{2,}`)
)

// Slug 把任意名称转成 ID 安全的大写片段
func Slug(name string) string {
	s := slugInvalidRe.ReplaceAllString(name, "_")
	s = multiUnderRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "X"
	}
	return strings.ToUpper(s)
}

// Coerce 把原始 ID 归一化到给定前缀；原始值为空时用名称的 slug 兜底
func Coerce(prefix, rawID, fallbackName string) string {
	id := strings.TrimSpace(rawID)
	if id == "" {
		return prefix + Slug(fallbackName)
	}
	if strings.HasPrefix(id, prefix) {
		return id
	}
	// 前缀大小写或分隔符写错时剥掉再拼
	base := strings.ToLower(strings.TrimSuffix(prefix, "_"))
	if strings.HasPrefix(strings.ToLower(id), base) {
		id = id[len(base):]
		id = strings.TrimLeft(id, "_-")
	}
	if id == "" {
		return prefix + Slug(fallbackName)
	}
	return prefix + Slug(id)
}

// EnsureUnique 在占用集合内保证 ID 唯一，冲突时追加 _2、_3…并登记占用
func EnsureUnique(id string, taken map[string]struct{}) string {
	if _, ok := taken[id]; !ok {
		taken[id] = struct{}{}
		return id
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", id, i)
		if _, ok := taken[candidate]; !ok {
			taken[candidate] = struct{}{}
			return candidate
		}
	}
}

// TakenSet 从若干 ID 列表构建占用集合
func TakenSet(idLists ...[]string) map[string]struct{} {
	taken := make(map[string]struct{})
	for _, list := range idLists {
		for _, id := range list {
			taken[id] = struct{}{}
		}
	}
	return taken
}
