package entity

import "time"

// AudioTimeline 可确认的音频时间轴，独立于分镜列表存储
type AudioTimeline struct {
	Version        int                `json:"version"`
	Confirmed      bool               `json:"confirmed"`
	UpdatedAt      time.Time          `json:"updated_at"`
	MasterAudioURL string             `json:"master_audio_url,omitempty"`
	TotalDuration  float64            `json:"total_duration"`
	Segments       []*TimelineSegment `json:"segments"`
}

// TimelineSegment 时间轴段落
type TimelineSegment struct {
	SegmentID   string          `json:"segment_id"`
	SegmentName string          `json:"segment_name,omitempty"`
	Shots       []*TimelineShot `json:"shots"`
}

// TimelineShot 时间轴分镜条目
type TimelineShot struct {
	ShotID        string  `json:"shot_id"`
	TimecodeStart float64 `json:"timecode_start"`
	TimecodeEnd   float64 `json:"timecode_end"`
	Duration      float64 `json:"duration"`

	VoiceAudioURL     string `json:"voice_audio_url,omitempty"`
	VoiceDurationMS   int    `json:"voice_duration_ms,omitempty"`
	NarrationAudioURL string `json:"narration_audio_url,omitempty"`
	NarrationDuration int    `json:"narration_duration_ms,omitempty"`
	DialogueAudioURL  string `json:"dialogue_audio_url,omitempty"`
	DialogueDuration  int    `json:"dialogue_duration_ms,omitempty"`
}

// ShotIDs 按顺序返回时间轴引用的全部分镜 ID
func (t *AudioTimeline) ShotIDs() []string {
	var ids []string
	for _, seg := range t.Segments {
		for _, s := range seg.Shots {
			ids = append(ids, s.ShotID)
		}
	}
	return ids
}
