// Package tts 提供火山风格语音合成 API 的 HTTP 适配器
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/config"
)

var tracer = otel.Tracer("provider.tts")

// Client 语音合成客户端
type Client struct {
	cfg  config.TTSConfig
	http *http.Client
}

// NewClient 创建语音合成客户端
func NewClient(cfg config.TTSConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	App struct {
		AppID string `json:"appid"`
		Token string `json:"token"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		VoiceType  string  `json:"voice_type"`
		Encoding   string  `json:"encoding"`
		Rate       int     `json:"rate"`
		SpeedRatio float64 `json:"speed_ratio"`
	} `json:"audio"`
	Request struct {
		ReqID     string `json:"reqid"`
		Text      string `json:"text"`
		Operation string `json:"operation"`
	} `json:"request"`
}

type synthesizeResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Data     string `json:"data"` // base64 音频
	Addition struct {
		Duration string `json:"duration"` // 毫秒，字符串
	} `json:"addition"`
}

// Synthesize 合成单段语音
func (c *Client) Synthesize(ctx context.Context, req *port.SpeechRequest) (*port.SpeechResult, error) {
	ctx, span := tracer.Start(ctx, "tts.Synthesize")
	defer span.End()

	var body synthesizeRequest
	body.App.AppID = c.cfg.AppID
	body.App.Token = c.cfg.APIKey
	body.User.UID = "storyboard-agent"
	body.Audio.VoiceType = req.Voice
	body.Audio.Encoding = req.Encoding
	body.Audio.Rate = req.Rate
	body.Audio.SpeedRatio = req.SpeedRatio
	body.Request.ReqID = uuid.NewString()
	body.Request.Text = req.Text
	body.Request.Operation = "query"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer;"+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("tts provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response: %w", err)
	}

	var out synthesizeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tts response (status %d): %w", resp.StatusCode, err)
	}
	// 该协议正常码为 3000
	if resp.StatusCode != http.StatusOK || (out.Code != 0 && out.Code != 3000) {
		return nil, fmt.Errorf("tts provider error (status %d, code %d): %s",
			resp.StatusCode, out.Code, out.Message)
	}
	if out.Data == "" {
		return nil, fmt.Errorf("tts provider returned no audio")
	}

	audio, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tts audio: %w", err)
	}

	duration := 0
	if out.Addition.Duration != "" {
		if ms, err := strconv.Atoi(out.Addition.Duration); err == nil {
			duration = ms
		}
	}

	return &port.SpeechResult{Audio: audio, DurationMS: duration}, nil
}
