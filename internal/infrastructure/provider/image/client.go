// Package image 提供 OpenAI 兼容风格的文生图 HTTP 适配器
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/config"
)

var tracer = otel.Tracer("provider.image")

// Client 文生图客户端
type Client struct {
	cfg  config.ImageConfig
	http *http.Client
}

// NewClient 创建文生图客户端
func NewClient(cfg config.ImageConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Image          []string `json:"image,omitempty"` // 参考图
	Size           string   `json:"size,omitempty"`
	ResponseFormat string   `json:"response_format"`
	N              int      `json:"n"`
}

type generateResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Generate 文生图/图生图
func (c *Client) Generate(ctx context.Context, req *port.ImageRequest) (*port.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "image.Generate")
	defer span.End()

	body := generateRequest{
		Model:          c.cfg.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Image:          req.ReferenceImages,
		ResponseFormat: "url",
		N:              1,
	}
	if req.Width > 0 && req.Height > 0 {
		body.Size = fmt.Sprintf("%dx%d", req.Width, req.Height)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("image provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read image response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode image response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != nil {
		msg := string(raw)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("image provider error (status %d): %s", resp.StatusCode, msg)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, fmt.Errorf("image provider returned no image")
	}

	return &port.ImageResult{URL: out.Data[0].URL}, nil
}
