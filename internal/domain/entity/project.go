// Package entity 定义领域实体
package entity

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// AudioWorkflow 音频工作流模式
type AudioWorkflow string

const (
	AudioWorkflowAuto          AudioWorkflow = "auto"
	AudioWorkflowTTSAll        AudioWorkflow = "tts_all"
	AudioWorkflowVideoDialogue AudioWorkflow = "video_dialogue"
)

// VideoAudioSupport 视频提供商是否支持生成音频
type VideoAudioSupport string

const (
	VideoAudioSupported   VideoAudioSupport = "true"
	VideoAudioUnsupported VideoAudioSupport = "false"
	VideoAudioUnknown     VideoAudioSupport = "unknown"
)

// CreativeBrief 创作简报，键名统一使用 camelCase
type CreativeBrief struct {
	Title                 string            `json:"title,omitempty"`
	VideoType             string            `json:"videoType,omitempty"`
	NarrativeDriver       string            `json:"narrativeDriver,omitempty"`
	EmotionalTone         string            `json:"emotionalTone,omitempty"`
	VisualStyle           string            `json:"visualStyle,omitempty"`
	Duration              string            `json:"duration,omitempty"`
	AspectRatio           string            `json:"aspectRatio,omitempty"`
	Language              string            `json:"language,omitempty"`
	NarratorVoiceProfile  string            `json:"narratorVoiceProfile,omitempty"`
	TargetDurationSeconds float64           `json:"targetDurationSeconds,omitempty"`
	TTSSpeedRatio         float64           `json:"ttsSpeedRatio,omitempty"`
	AudioWorkflowPref     AudioWorkflow     `json:"audioWorkflowPreference,omitempty"`
	AudioWorkflowResolved AudioWorkflow     `json:"audioWorkflowResolved,omitempty"`
	VideoAudioSupported   VideoAudioSupport `json:"videoAudioSupported,omitempty"`
	Hints                 map[string]string `json:"hints,omitempty"`
}

// ResolveAudioWorkflow 由偏好和提供商能力推导实际工作流。
// 推导规则：显式偏好优先；auto 时仅在确认视频侧支持音频才走 video_dialogue。
func (b *CreativeBrief) ResolveAudioWorkflow() AudioWorkflow {
	switch b.AudioWorkflowPref {
	case AudioWorkflowTTSAll:
		return AudioWorkflowTTSAll
	case AudioWorkflowVideoDialogue:
		if b.VideoAudioSupported == VideoAudioUnsupported {
			return AudioWorkflowTTSAll
		}
		return AudioWorkflowVideoDialogue
	default:
		if b.VideoAudioSupported == VideoAudioSupported {
			return AudioWorkflowVideoDialogue
		}
		return AudioWorkflowTTSAll
	}
}

// SetField 按 camelCase 键写入简报字段；未识别的键返回 false
func (b *CreativeBrief) SetField(key string, value any) bool {
	switch key {
	case "title":
		b.Title = toString(value)
	case "videoType":
		b.VideoType = toString(value)
	case "narrativeDriver":
		b.NarrativeDriver = toString(value)
	case "emotionalTone":
		b.EmotionalTone = toString(value)
	case "visualStyle":
		b.VisualStyle = toString(value)
	case "duration":
		b.Duration = toString(value)
	case "aspectRatio":
		b.AspectRatio = toString(value)
	case "language":
		b.Language = toString(value)
	case "narratorVoiceProfile":
		b.NarratorVoiceProfile = toString(value)
	case "targetDurationSeconds":
		if f, ok := toFloat(value); ok {
			b.TargetDurationSeconds = f
		}
	case "ttsSpeedRatio":
		if f, ok := toFloat(value); ok && f >= 0.85 && f <= 1.25 {
			b.TTSSpeedRatio = f
		}
	case "audioWorkflowPreference":
		switch AudioWorkflow(toString(value)) {
		case AudioWorkflowAuto, AudioWorkflowTTSAll, AudioWorkflowVideoDialogue:
			b.AudioWorkflowPref = AudioWorkflow(toString(value))
		}
	default:
		return false
	}
	return true
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// AgentProject 智能分镜项目实体，单一可变聚合根。
// elements 按 ID 索引，segments 保序；所有媒体字段只经 Pipeline/Operator 变更。
type AgentProject struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	CreativeBrief CreativeBrief       `json:"creative_brief"`
	Elements      map[string]*Element `json:"elements"`
	Segments      []*Segment          `json:"segments"`
	VisualAssets  []*VisualAsset      `json:"visual_assets,omitempty"`
	AudioAssets   []*AudioAsset       `json:"audio_assets,omitempty"`
	AudioTimeline *AudioTimeline      `json:"audio_timeline,omitempty"`
	AgentMemory   []*AgentMemoryEntry `json:"agent_memory,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewAgentProject 创建项目
func NewAgentProject(id, name string) *AgentProject {
	now := time.Now()
	return &AgentProject{
		ID:        id,
		Name:      name,
		Elements:  make(map[string]*Element),
		Segments:  []*Segment{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch 更新时间戳
func (p *AgentProject) Touch() {
	p.UpdatedAt = time.Now()
}

// FindElement 按 ID 查找元素
func (p *AgentProject) FindElement(id string) *Element {
	if p.Elements == nil {
		return nil
	}
	return p.Elements[id]
}

// FindShot 按 ID 查找分镜及其所属段落
func (p *AgentProject) FindShot(id string) (*Shot, *Segment) {
	for _, seg := range p.Segments {
		for _, shot := range seg.Shots {
			if shot.ID == id {
				return shot, seg
			}
		}
	}
	return nil, nil
}

// FindSegment 按 ID 查找段落
func (p *AgentProject) FindSegment(id string) *Segment {
	for _, seg := range p.Segments {
		if seg.ID == id {
			return seg
		}
	}
	return nil
}

// AllShots 按段落顺序与段内顺序展开全部分镜
func (p *AgentProject) AllShots() []*Shot {
	var shots []*Shot
	for _, seg := range p.Segments {
		shots = append(shots, seg.Shots...)
	}
	return shots
}

// ShotIDs 按顺序返回全部分镜 ID
func (p *AgentProject) ShotIDs() []string {
	shots := p.AllShots()
	ids := make([]string, 0, len(shots))
	for _, s := range shots {
		ids = append(ids, s.ID)
	}
	return ids
}

// CharacterElements 返回全部角色类元素
func (p *AgentProject) CharacterElements() []*Element {
	var out []*Element
	for _, el := range p.Elements {
		if el != nil && el.Type == ElementTypeCharacter {
			out = append(out, el)
		}
	}
	return out
}

// maxAgentMemoryEntries agent_memory 滚动窗口上限
const maxAgentMemoryEntries = 48

// AppendMemory 追加一条 agent 记忆，超出窗口时丢弃最旧条目
func (p *AgentProject) AppendMemory(role, content string, meta map[string]string) {
	entry := &AgentMemoryEntry{
		Role:      role,
		Content:   content,
		Meta:      meta,
		CreatedAt: time.Now(),
	}
	p.AgentMemory = append(p.AgentMemory, entry)
	if len(p.AgentMemory) > maxAgentMemoryEntries {
		p.AgentMemory = p.AgentMemory[len(p.AgentMemory)-maxAgentMemoryEntries:]
	}
}

// RecentMemory 返回最近 n 条记忆（保持时间顺序）
func (p *AgentProject) RecentMemory(n int) []*AgentMemoryEntry {
	if n <= 0 || len(p.AgentMemory) == 0 {
		return nil
	}
	if len(p.AgentMemory) <= n {
		return p.AgentMemory
	}
	return p.AgentMemory[len(p.AgentMemory)-n:]
}

// AgentMemoryEntry agent 记忆条目，仅作为 LLM 上下文
type AgentMemoryEntry struct {
	Role      string            `json:"role"` // user | assistant
	Content   string            `json:"content"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
