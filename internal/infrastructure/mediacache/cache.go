// Package mediacache 把远端生成产物镜像到本地 uploads 目录。
// 下载前后都做 SSRF 防护：仅 http/https 标准端口、仅公网单播地址，
// 重定向后的最终地址会再次校验。超过体积上限的下载会被中止并删除残留。
package mediacache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
)

// Category 产物类别，决定子目录与体积上限
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
)

// Options 镜像器配置
type Options struct {
	UploadsDir    string // 本地根目录，如 ./uploads
	UploadsPrefix string // 对外 URL 前缀，如 /api/uploads

	MaxImageBytes int64
	MaxVideoBytes int64
	MaxAudioBytes int64

	DownloadTimeout time.Duration
	ConnectTimeout  time.Duration
}

// Cache 远端产物的本地镜像器
type Cache struct {
	opts   Options
	client *http.Client
}

// New 创建镜像器；零值选项回落到默认值
func New(opts Options) *Cache {
	if opts.UploadsDir == "" {
		opts.UploadsDir = "./uploads"
	}
	if opts.UploadsPrefix == "" {
		opts.UploadsPrefix = "/api/uploads"
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 30 << 20
	}
	if opts.MaxVideoBytes <= 0 {
		opts.MaxVideoBytes = 300 << 20
	}
	if opts.MaxAudioBytes <= 0 {
		opts.MaxAudioBytes = 50 << 20
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 120 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	c := &Cache{opts: opts}
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	c.client = &http.Client{
		Timeout: opts.DownloadTimeout,
		Transport: &http.Transport{
			DialContext:         c.safeDial(dialer),
			TLSHandshakeTimeout: opts.ConnectTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return ValidateRemoteURL(req.URL.String())
		},
	}
	return c
}

// Mirror 把远端 URL 镜像到本地，返回本地访问路径。
// 安全校验失败、下载失败或超过体积上限时返回原始 URL 与错误，绝不留下半成品。
func (c *Cache) Mirror(ctx context.Context, rawURL string, category Category) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return rawURL, errors.New(errors.CodeValidationFailed, "empty url")
	}
	// 已经是本地或内联资源
	if strings.HasPrefix(rawURL, c.opts.UploadsPrefix+"/") || strings.HasPrefix(rawURL, "data:") {
		return rawURL, nil
	}

	if err := ValidateRemoteURL(rawURL); err != nil {
		metrics.CacheRejectedTotal.WithLabelValues("url_policy").Inc()
		return rawURL, err
	}

	dest, localURL := c.destination(rawURL, category)
	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		return localURL, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return rawURL, errors.Wrap(err, errors.CodeCacheError, "failed to create cache dir")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return rawURL, errors.Wrap(err, errors.CodeCacheError, "bad download request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.CacheRejectedTotal.WithLabelValues("network").Inc()
		return rawURL, errors.Wrap(err, errors.CodeCacheError, "download failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rawURL, errors.New(errors.CodeCacheError, fmt.Sprintf("download status %d", resp.StatusCode))
	}

	limit := c.maxBytes(category)
	if resp.ContentLength > 0 && resp.ContentLength > limit {
		metrics.CacheRejectedTotal.WithLabelValues("oversize").Inc()
		return rawURL, errors.New(errors.CodeSafetyRejected, fmt.Sprintf("content length %d exceeds cap %d", resp.ContentLength, limit))
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return rawURL, errors.Wrap(err, errors.CodeCacheError, "failed to create temp file")
	}
	written, err := io.Copy(out, io.LimitReader(resp.Body, limit+1))
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmp)
		return rawURL, errors.New(errors.CodeCacheError, "download interrupted")
	}
	if written > limit {
		os.Remove(tmp)
		metrics.CacheRejectedTotal.WithLabelValues("oversize").Inc()
		return rawURL, errors.New(errors.CodeSafetyRejected, fmt.Sprintf("download exceeds cap %d", limit))
	}
	if written == 0 {
		os.Remove(tmp)
		return rawURL, errors.New(errors.CodeCacheError, "empty download")
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return rawURL, errors.Wrap(err, errors.CodeCacheError, "failed to finalize cache file")
	}

	metrics.CacheDownloadBytes.WithLabelValues(string(category)).Add(float64(written))
	logger.Debug(ctx, "remote artifact mirrored", "category", string(category), "bytes", written, "dest", dest)
	return localURL, nil
}

// destination 确定性目标路径：uploads/{category}/cache_{sha256(url)[:16]}{ext}
func (c *Cache) destination(rawURL string, category Category) (filePath, localURL string) {
	sum := sha256.Sum256([]byte(rawURL))
	name := "cache_" + hex.EncodeToString(sum[:])[:16] + extensionFor(rawURL, category)
	filePath = filepath.Join(c.opts.UploadsDir, string(category), name)
	localURL = c.opts.UploadsPrefix + "/" + string(category) + "/" + name
	return filePath, localURL
}

func (c *Cache) maxBytes(category Category) int64 {
	switch category {
	case CategoryVideo:
		return c.opts.MaxVideoBytes
	case CategoryAudio:
		return c.opts.MaxAudioBytes
	default:
		return c.opts.MaxImageBytes
	}
}

// PathForLocalURL 把本地访问路径还原为磁盘路径；越界路径拒绝
func (c *Cache) PathForLocalURL(localURL string) (string, bool) {
	prefix := c.opts.UploadsPrefix + "/"
	if !strings.HasPrefix(localURL, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(localURL, prefix)
	p := filepath.Join(c.opts.UploadsDir, filepath.FromSlash(rel))
	root, err := filepath.Abs(c.opts.UploadsDir)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// UploadsDir 本地根目录
func (c *Cache) UploadsDir() string { return c.opts.UploadsDir }

// UploadsPrefix 对外 URL 前缀
func (c *Cache) UploadsPrefix() string { return c.opts.UploadsPrefix }

func extensionFor(rawURL string, category Category) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	switch category {
	case CategoryVideo:
		return ".mp4"
	case CategoryAudio:
		return ".mp3"
	default:
		return ".jpg"
	}
}

// ValidateRemoteURL 校验远端 URL 是否允许下载：
// 仅 http/https，仅 80/443 端口，主机名不得是字面上的内网/环回地址。
// 实际解析出的 IP 在拨号时还会逐个复核。
func ValidateRemoteURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.New(errors.CodeSafetyRejected, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New(errors.CodeSafetyRejected, "unsupported scheme: "+u.Scheme)
	}
	switch u.Port() {
	case "", "80", "443":
	default:
		return errors.New(errors.CodeSafetyRejected, "non-standard port: "+u.Port())
	}
	host := u.Hostname()
	if host == "" {
		return errors.New(errors.CodeSafetyRejected, "missing host")
	}
	if ip := net.ParseIP(host); ip != nil && !isPublicUnicast(ip) {
		return errors.New(errors.CodeSafetyRejected, "host address is not public unicast")
	}
	return nil
}

// safeDial 解析主机名并只拨号公网单播地址，杜绝 DNS 重绑定类绕过
func (c *Cache) safeDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			if !isPublicUnicast(ip.IP) {
				lastErr = fmt.Errorf("address %s is not public unicast", ip.IP)
				continue
			}
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no resolvable address for %s", host)
		}
		return nil, lastErr
	}
}

func isPublicUnicast(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if !ip.IsGlobalUnicast() {
		return false
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return false
	}
	// 其余保留段
	for _, cidr := range reservedCIDRs {
		if cidr.Contains(ip) {
			return false
		}
	}
	return true
}

var reservedCIDRs = mustParseCIDRs(
	"100.64.0.0/10",   // CGNAT
	"192.0.0.0/24",    // IETF 协议保留
	"192.0.2.0/24",    // TEST-NET-1
	"198.18.0.0/15",   // 基准测试
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"240.0.0.0/4",     // E 类保留
	"100::/64",        // IPv6 黑洞
	"2001:db8::/32",   // IPv6 文档
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
