package entity

import (
	"math"
	"regexp"
	"strings"
)

// ShotType 分镜类型
type ShotType string

const (
	ShotTypeStandard ShotType = "standard"
	ShotTypeQuick    ShotType = "quick"
	ShotTypeCloseup  ShotType = "closeup"
	ShotTypeWide     ShotType = "wide"
	ShotTypeMontage  ShotType = "montage"
)

// ShotStatus 分镜媒体就绪状态
type ShotStatus string

const (
	ShotStatusPending         ShotStatus = "pending"
	ShotStatusFrameReady      ShotStatus = "frame_ready"
	ShotStatusFrameFailed     ShotStatus = "frame_failed"
	ShotStatusVideoProcessing ShotStatus = "video_processing"
	ShotStatusVideoReady      ShotStatus = "video_ready"
	ShotStatusVideoFailed     ShotStatus = "video_failed"
	ShotStatusVideoTimeout    ShotStatus = "video_timeout"
)

const (
	// MinShotSeconds 单分镜时长下限
	MinShotSeconds = 2.0
	// MaxShotSeconds 流水线单分镜时长上限（音频驱动拆分保证）
	MaxShotSeconds = 6.0
)

// Segment 段落：保序的分镜列表
type Segment struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Shots       []*Shot `json:"shots"`
}

// Shot 分镜：一帧起始画面与可选的动态片段
type Shot struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        ShotType `json:"type"`
	Duration    float64  `json:"duration"`
	Description string   `json:"description,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	VideoPrompt string   `json:"video_prompt,omitempty"`

	Narration      string `json:"narration,omitempty"`
	DialogueScript string `json:"dialogue_script,omitempty"` // "Speaker: line\n…"

	StartImageURL       string               `json:"start_image_url,omitempty"`
	CachedStartImageURL string               `json:"cached_start_image_url,omitempty"`
	StartImageHistory   []*ImageHistoryEntry `json:"start_image_history,omitempty"`
	ReferenceImages     []string             `json:"reference_images,omitempty"`

	VideoURL           string `json:"video_url,omitempty"`
	VideoSourceURL     string `json:"video_source_url,omitempty"`
	CachedVideoURL     string `json:"cached_video_url,omitempty"`
	VideoTaskID        string `json:"video_task_id,omitempty"`
	VideoAudioDisabled bool   `json:"video_audio_disabled,omitempty"`

	Status ShotStatus `json:"status,omitempty"`

	VoiceAudioURL           string `json:"voice_audio_url,omitempty"`
	VoiceAudioDurationMS    int    `json:"voice_audio_duration_ms,omitempty"`
	NarrationAudioURL       string `json:"narration_audio_url,omitempty"`
	NarrationAudioDuration  int    `json:"narration_audio_duration_ms,omitempty"`
	DialogueAudioURL        string `json:"dialogue_audio_url,omitempty"`
	DialogueAudioDurationMS int    `json:"dialogue_audio_duration_ms,omitempty"`
}

// PushStartImage 将新起始帧置入历史头部；无收藏钉住时切换当前帧
func (s *Shot) PushStartImage(localURL, sourceURL string) *ImageHistoryEntry {
	entry := NewImageHistoryEntry(localURL, sourceURL)
	s.StartImageHistory = append([]*ImageHistoryEntry{entry}, s.StartImageHistory...)
	if FavoriteOf(s.StartImageHistory) == nil {
		s.StartImageURL = sourceURL
		s.CachedStartImageURL = localURL
	}
	return entry
}

// ClearVideo 清除视频产物并回退状态
func (s *Shot) ClearVideo() {
	s.VideoURL = ""
	s.VideoSourceURL = ""
	s.CachedVideoURL = ""
	s.VideoTaskID = ""
	s.VideoAudioDisabled = false
	if s.StartImageURL != "" {
		s.Status = ShotStatusFrameReady
	} else {
		s.Status = ShotStatusPending
	}
}

// ClearVoiceAudio 清除 TTS 产物字段
func (s *Shot) ClearVoiceAudio() {
	s.VoiceAudioURL = ""
	s.VoiceAudioDurationMS = 0
	s.NarrationAudioURL = ""
	s.NarrationAudioDuration = 0
	s.DialogueAudioURL = ""
	s.DialogueAudioDurationMS = 0
}

// RoundDurationUp 将秒数向上取整到 0.5 的倍数并保证下限
func RoundDurationUp(seconds float64) float64 {
	if seconds < MinShotSeconds {
		return MinShotSeconds
	}
	return math.Ceil(seconds*2) / 2
}

var splitPartRe = regexp.MustCompile(`^(.*)_P(\d+)$`)

// SplitParentID 解析拆分分镜的父 ID；非拆分分镜返回自身 ID
func SplitParentID(shotID string) string {
	if m := splitPartRe.FindStringSubmatch(shotID); m != nil {
		return m[1]
	}
	return shotID
}

// IsSplitPart 判断是否为拆分出来的部分分镜（Shot_X_P{n}）
func IsSplitPart(shotID string) bool {
	return splitPartRe.MatchString(shotID)
}

// SameSplitGroup 判断两个分镜是否属于同一父分镜的拆分组
func SameSplitGroup(a, b string) bool {
	if a == b {
		return false
	}
	pa, pb := SplitParentID(a), SplitParentID(b)
	if pa != pb {
		return false
	}
	// 至少一方必须是拆分部分，否则只是同名前缀
	return IsSplitPart(a) || IsSplitPart(b)
}

// NormalizeShotType 宽松解析分镜类型字符串
func NormalizeShotType(s string) ShotType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick":
		return ShotTypeQuick
	case "closeup", "close-up", "close_up":
		return ShotTypeCloseup
	case "wide":
		return ShotTypeWide
	case "montage":
		return ShotTypeMontage
	default:
		return ShotTypeStandard
	}
}
