package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signedURL(dateKey, expiresKey string, signedAt time.Time, validSeconds int) string {
	return fmt.Sprintf("https://cdn.example.com/a.png?%s=%s&%s=%d",
		dateKey, signedAt.UTC().Format("20060102T150405Z"), expiresKey, validSeconds)
}

func TestIsStableURL(t *testing.T) {
	assert.True(t, IsStableURL("/api/uploads/image/a.png", "/api/uploads"))
	assert.True(t, IsStableURL("data:image/png;base64,xxxx", "/api/uploads"))
	assert.False(t, IsStableURL("https://cdn.example.com/a.png", "/api/uploads"))
	assert.False(t, IsStableURL("", "/api/uploads"))
	// 前缀必须整段匹配
	assert.False(t, IsStableURL("/api/uploads-evil/a.png", "/api/uploads"))
}

func TestIsProbablyExpiredSignedURL(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("tos expired", func(t *testing.T) {
		u := signedURL("X-Tos-Date", "X-Tos-Expires", now.Add(-2*time.Hour), 3600)
		assert.True(t, IsProbablyExpiredSignedURL(u, now))
	})

	t.Run("s3 still valid", func(t *testing.T) {
		u := signedURL("X-Amz-Date", "X-Amz-Expires", now.Add(-time.Minute), 3600)
		assert.False(t, IsProbablyExpiredSignedURL(u, now))
	})

	t.Run("within tolerance window counts as expired", func(t *testing.T) {
		// 剩余 10 秒 < 30 秒容忍窗口
		u := signedURL("X-Tos-Date", "X-Tos-Expires", now.Add(-3590*time.Second), 3600)
		assert.True(t, IsProbablyExpiredSignedURL(u, now))
	})

	t.Run("case insensitive keys", func(t *testing.T) {
		u := signedURL("x-amz-date", "x-amz-expires", now.Add(-2*time.Hour), 3600)
		assert.True(t, IsProbablyExpiredSignedURL(u, now))
	})

	t.Run("unsigned url never expires", func(t *testing.T) {
		assert.False(t, IsProbablyExpiredSignedURL("https://cdn.example.com/a.png", now))
	})

	t.Run("malformed date ignored", func(t *testing.T) {
		assert.False(t, IsProbablyExpiredSignedURL(
			"https://cdn.example.com/a.png?X-Tos-Date=yesterday&X-Tos-Expires=60", now))
	})
}

func TestUsableAssetURL(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	assert.False(t, UsableAssetURL("  ", "/api/uploads", now))
	assert.True(t, UsableAssetURL("/api/uploads/video/a.mp4", "/api/uploads", now))
	assert.True(t, UsableAssetURL("https://cdn.example.com/a.png", "/api/uploads", now))

	expired := signedURL("X-Tos-Date", "X-Tos-Expires", now.Add(-2*time.Hour), 3600)
	assert.False(t, UsableAssetURL(expired, "/api/uploads", now))
}

func TestFilterReferenceImages(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	expired := signedURL("X-Amz-Date", "X-Amz-Expires", now.Add(-2*time.Hour), 3600)

	in := []string{
		"https://cdn.example.com/a.png",
		"data:image/png;base64,xxxx", // 内联图不可共享
		"https://cdn.example.com/a.png", // 重复
		expired,
		"/api/uploads/image/b.png",
		"  ",
		"ftp://legacy/c.png",
	}
	got := FilterReferenceImages(in, now)
	assert.Equal(t, []string{
		"https://cdn.example.com/a.png",
		"/api/uploads/image/b.png",
	}, got)
}

func TestFilterReferenceImagesCap(t *testing.T) {
	var in []string
	for i := 0; i < maxReferenceImages+5; i++ {
		in = append(in, fmt.Sprintf("https://cdn.example.com/%d.png", i))
	}
	assert.Len(t, FilterReferenceImages(in, time.Now()), maxReferenceImages)
}
