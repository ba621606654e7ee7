// Package pipeline 实现分阶段生成编排：元素图、起始帧、视频、语音与音频时间线
package pipeline

import (
	"net/url"
	"strings"
	"time"
)

// expiryTolerance 签名 URL 过期判定的容忍窗口
const expiryTolerance = 30 * time.Second

// IsStableURL 本地上传或内联资源视为稳定，永不过期
func IsStableURL(raw, uploadsPrefix string) bool {
	if raw == "" {
		return false
	}
	prefix := strings.TrimSuffix(uploadsPrefix, "/") + "/"
	return strings.HasPrefix(raw, prefix) || strings.HasPrefix(raw, "data:")
}

// IsProbablyExpiredSignedURL 判断远端 URL 是否带了已过期的签名时间戳。
// 识别 TOS（X-Tos-Date/X-Tos-Expires）与 S3（X-Amz-Date/X-Amz-Expires）两种形态。
func IsProbablyExpiredSignedURL(raw string, now time.Time) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	q := u.Query()

	if exp, ok := signedExpiry(q, "X-Tos-Date", "X-Tos-Expires"); ok {
		return exp.Before(now.Add(expiryTolerance))
	}
	if exp, ok := signedExpiry(q, "X-Amz-Date", "X-Amz-Expires"); ok {
		return exp.Before(now.Add(expiryTolerance))
	}
	return false
}

// signedExpiry 从查询串解析 日期+有效期 得到过期时刻；键名大小写不敏感
func signedExpiry(q url.Values, dateKey, expiresKey string) (time.Time, bool) {
	date := queryValueFold(q, dateKey)
	expires := queryValueFold(q, expiresKey)
	if date == "" || expires == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102T150405Z", date)
	if err != nil {
		return time.Time{}, false
	}
	d, err := time.ParseDuration(expires + "s")
	if err != nil {
		return time.Time{}, false
	}
	return t.Add(d), true
}

func queryValueFold(q url.Values, key string) string {
	for k, vs := range q {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// UsableAssetURL 跳过策略：稳定 URL 直接复用；带过期签名的远端 URL
// 视为缺失需要重新生成；其余非空远端 URL 复用。
func UsableAssetURL(raw, uploadsPrefix string, now time.Time) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	if IsStableURL(raw, uploadsPrefix) {
		return true
	}
	return !IsProbablyExpiredSignedURL(raw, now)
}
