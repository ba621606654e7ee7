package mediacache

import (
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRemoteURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https ok", "https://cdn.example.com/a.png", false},
		{"http ok", "http://cdn.example.com/a.png", false},
		{"explicit 443", "https://cdn.example.com:443/a.png", false},
		{"ftp rejected", "ftp://cdn.example.com/a.png", true},
		{"file rejected", "file:///etc/passwd", true},
		{"odd port rejected", "https://cdn.example.com:8443/a.png", true},
		{"loopback rejected", "http://127.0.0.1/a.png", true},
		{"private rejected", "http://10.0.0.5/a.png", true},
		{"link local rejected", "http://169.254.169.254/latest/meta-data", true},
		{"missing host", "https:///a.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRemoteURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsPublicUnicast(t *testing.T) {
	assert.True(t, isPublicUnicast(net.ParseIP("93.184.216.34")))
	assert.False(t, isPublicUnicast(net.ParseIP("192.168.1.1")))
	assert.False(t, isPublicUnicast(net.ParseIP("100.64.0.1")))    // CGNAT
	assert.False(t, isPublicUnicast(net.ParseIP("198.51.100.7")))  // TEST-NET
	assert.False(t, isPublicUnicast(net.ParseIP("::1")))
	assert.False(t, isPublicUnicast(net.ParseIP("2001:db8::1")))
	assert.False(t, isPublicUnicast(nil))
}

func TestDestination(t *testing.T) {
	c := New(Options{UploadsDir: "/srv/uploads", UploadsPrefix: "/api/uploads"})

	p, u := c.destination("https://cdn.example.com/a.png", CategoryImage)
	assert.True(t, strings.HasPrefix(filepath.Base(p), "cache_"))
	assert.True(t, strings.HasSuffix(p, ".png"))
	assert.Equal(t, "/api/uploads/image/"+filepath.Base(p), u)

	// 同一 URL 的目标路径确定
	p2, _ := c.destination("https://cdn.example.com/a.png", CategoryImage)
	assert.Equal(t, p, p2)

	// 无扩展名按类别兜底
	p3, _ := c.destination("https://cdn.example.com/stream", CategoryVideo)
	assert.True(t, strings.HasSuffix(p3, ".mp4"))
}

func TestPathForLocalURL(t *testing.T) {
	c := New(Options{UploadsDir: "/srv/uploads", UploadsPrefix: "/api/uploads"})

	p, ok := c.PathForLocalURL("/api/uploads/audio/a.wav")
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/srv/uploads", "audio", "a.wav"), p)

	_, ok = c.PathForLocalURL("https://cdn.example.com/a.wav")
	assert.False(t, ok)

	// 路径穿越拒绝
	_, ok = c.PathForLocalURL("/api/uploads/../../etc/passwd")
	assert.False(t, ok)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpeg", extensionFor("https://cdn.example.com/a.JPEG?sig=x", CategoryImage))
	assert.Equal(t, ".mp3", extensionFor("https://cdn.example.com/a", CategoryAudio))
	// 过长的伪扩展名忽略
	assert.Equal(t, ".jpg", extensionFor("https://cdn.example.com/a.abcdef", CategoryImage))
}
