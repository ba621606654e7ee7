package entity

import "time"

// VisualAssetKind 视觉资产类型
type VisualAssetKind string

const (
	VisualAssetElementImage VisualAssetKind = "element_image"
	VisualAssetStartFrame   VisualAssetKind = "start_frame"
	VisualAssetVideo        VisualAssetKind = "video"
)

// VisualAsset UI 历史索引条目（只追加，不作为唯一数据来源）
type VisualAsset struct {
	ID        string          `json:"id"`
	Kind      VisualAssetKind `json:"kind"`
	OwnerID   string          `json:"owner_id"` // Element_* 或 Shot_*
	URL       string          `json:"url"`
	SourceURL string          `json:"source_url,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AudioAssetKind 音频资产类型
type AudioAssetKind string

const (
	AudioAssetNarration AudioAssetKind = "narration"
	AudioAssetDialogue  AudioAssetKind = "dialogue"
	AudioAssetVoice     AudioAssetKind = "voice"
	AudioAssetMaster    AudioAssetKind = "master"
)

// AudioAsset 音频资产索引条目（只追加）
type AudioAsset struct {
	ID         string         `json:"id"`
	Kind       AudioAssetKind `json:"kind"`
	ShotID     string         `json:"shot_id,omitempty"`
	URL        string         `json:"url"`
	DurationMS int            `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
