// Package port 定义应用层对外部生成能力的最小依赖（ports）
package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 定义对 LLM ChatModel 的最小依赖
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// ImageRequest 文生图请求
type ImageRequest struct {
	Prompt          string
	NegativePrompt  string
	ReferenceImages []string // 最多 10 张
	Width           int
	Height          int
}

// ImageResult 文生图结果
type ImageResult struct {
	URL  string
	Seed int64
}

// ImageGenerator 文生图能力
type ImageGenerator interface {
	Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error)
}

// VideoRequest 图生视频请求
type VideoRequest struct {
	ImageURL      string
	Prompt        string
	Duration      float64 // 秒
	Resolution    string
	Ratio         string
	GenerateAudio bool
}

// VideoTaskStatus 视频任务状态
type VideoTaskStatus string

const (
	VideoTaskProcessing VideoTaskStatus = "processing"
	VideoTaskCompleted  VideoTaskStatus = "completed"
	VideoTaskFailed     VideoTaskStatus = "failed"
)

// VideoSubmitResult 视频任务提交结果
type VideoSubmitResult struct {
	TaskID        string
	Status        VideoTaskStatus
	VideoURL      string // 同步完成时直接给出
	AudioDisabled bool   // 提供商拒绝 generate_audio 后降级
}

// VideoTaskResult 视频任务轮询结果
type VideoTaskResult struct {
	Status   VideoTaskStatus
	VideoURL string
	Progress int
	Error    string
}

// VideoGenerator 图生视频能力
type VideoGenerator interface {
	Generate(ctx context.Context, req *VideoRequest) (*VideoSubmitResult, error)
	CheckTaskStatus(ctx context.Context, taskID string) (*VideoTaskResult, error)
}

// SpeechRequest 语音合成请求
type SpeechRequest struct {
	Text       string
	Voice      string
	Encoding   string // mp3 | wav | pcm | opus
	Rate       int
	SpeedRatio float64
}

// SpeechResult 语音合成结果
type SpeechResult struct {
	Audio      []byte
	DurationMS int // 提供商未返回时为 0
}

// SpeechSynthesizer 语音合成能力
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)
}

// Providers 一次请求范围内的提供商集合，显式传入而非环境态
type Providers struct {
	Chat  ChatModelFactory
	Image ImageGenerator
	Video VideoGenerator
	TTS   SpeechSynthesizer
}
