package pipeline

import (
	"strings"
	"time"
)

// maxReferenceImages 单次生成最多携带的参考图数量
const maxReferenceImages = 10

// FilterReferenceImages 过滤参考图列表：
// 丢弃 data: 内联图（提供商不可共享）与带过期签名的远端 URL，
// 保序去重并截断到上限。
func FilterReferenceImages(raw []string, now time.Time) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, r := range raw {
		u := strings.TrimSpace(r)
		if u == "" || strings.HasPrefix(u, "data:") {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "/") {
			continue
		}
		if IsProbablyExpiredSignedURL(u, now) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if len(out) == maxReferenceImages {
			break
		}
	}
	return out
}
