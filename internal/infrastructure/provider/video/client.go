// Package video 提供火山风格图生视频任务 API 的 HTTP 适配器
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/config"
)

var tracer = otel.Tracer("provider.video")

// Client 图生视频客户端
type Client struct {
	cfg  config.VideoConfig
	http *http.Client
}

// NewClient 创建图生视频客户端
func NewClient(cfg config.VideoConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type submitRequest struct {
	Model      string         `json:"model"`
	Content    []contentPart  `json:"content"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type taskResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content *struct {
		VideoURL string `json:"video_url"`
	} `json:"content,omitempty"`
	Progress int `json:"progress,omitempty"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate 提交图生视频任务。提供商通常异步返回任务 ID，
// 少数模型同步完成时直接带 video_url。
func (c *Client) Generate(ctx context.Context, req *port.VideoRequest) (*port.VideoSubmitResult, error) {
	ctx, span := tracer.Start(ctx, "video.Generate")
	defer span.End()

	params := map[string]any{
		"duration": int(math.Ceil(req.Duration)),
	}
	if req.Resolution != "" {
		params["resolution"] = req.Resolution
	}
	if req.Ratio != "" {
		params["ratio"] = req.Ratio
	}
	if req.GenerateAudio {
		params["generate_audio"] = true
	}

	body := submitRequest{
		Model: c.cfg.Model,
		Content: []contentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &imageRef{URL: req.ImageURL}},
		},
		Parameters: params,
	}

	var out taskResponse
	if err := c.post(ctx, "/contents/generations/tasks", body, &out); err != nil {
		return nil, err
	}

	result := &port.VideoSubmitResult{TaskID: out.ID}
	switch out.Status {
	case "succeeded":
		result.Status = port.VideoTaskCompleted
		if out.Content != nil {
			result.VideoURL = out.Content.VideoURL
		}
	case "failed":
		return nil, taskError(&out)
	default:
		result.Status = port.VideoTaskProcessing
	}
	return result, nil
}

// CheckTaskStatus 查询任务状态
func (c *Client) CheckTaskStatus(ctx context.Context, taskID string) (*port.VideoTaskResult, error) {
	ctx, span := tracer.Start(ctx, "video.CheckTaskStatus")
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/contents/generations/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build task query: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("video task query failed: %w", err)
	}
	defer resp.Body.Close()

	var out taskResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}

	result := &port.VideoTaskResult{Progress: out.Progress}
	switch out.Status {
	case "succeeded":
		result.Status = port.VideoTaskCompleted
		if out.Content != nil {
			result.VideoURL = out.Content.VideoURL
		}
	case "failed", "cancelled":
		result.Status = port.VideoTaskFailed
		if out.Error != nil {
			result.Error = out.Error.Message
		}
	default:
		result.Status = port.VideoTaskProcessing
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out *taskResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal video request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build video request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("video provider request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out *taskResponse) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read video response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode video response (status %d): %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil {
			// 保留提供商原文，generate_audio 拒绝靠它识别
			return fmt.Errorf("video provider error (status %d, code %s): %s",
				resp.StatusCode, out.Error.Code, out.Error.Message)
		}
		return fmt.Errorf("video provider error (status %d): %s", resp.StatusCode, string(raw))
	}
	return nil
}

func taskError(out *taskResponse) error {
	if out.Error != nil {
		return fmt.Errorf("video task failed (code %s): %s", out.Error.Code, out.Error.Message)
	}
	return fmt.Errorf("video task failed")
}
