package director

import (
	"encoding/json"
	"sort"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/internal/workflow/node"
)

// 快照里的字符串截断上限，控制提示词体积
const (
	snapshotShortField = 120
	snapshotLongField  = 400
)

// PlanSnapshot 规划的紧凑快照，供时长校准等修订提示使用
func PlanSnapshot(plan *Plan) string {
	type shotView struct {
		ID             string  `json:"id"`
		Duration       float64 `json:"duration"`
		Description    string  `json:"description,omitempty"`
		Narration      string  `json:"narration,omitempty"`
		DialogueScript string  `json:"dialogue_script,omitempty"`
	}
	type segView struct {
		ID    string     `json:"id"`
		Name  string     `json:"name,omitempty"`
		Shots []shotView `json:"shots"`
	}
	view := struct {
		Brief    entity.CreativeBrief `json:"brief"`
		Segments []segView            `json:"segments"`
	}{Brief: plan.CreativeBrief}

	for _, seg := range plan.Segments {
		sv := segView{ID: seg.ID, Name: node.TruncateByRunes(seg.Name, snapshotShortField)}
		for _, shot := range seg.Shots {
			sv.Shots = append(sv.Shots, shotView{
				ID:             shot.ID,
				Duration:       shot.Duration,
				Description:    node.TruncateByRunes(shot.Description, snapshotLongField),
				Narration:      node.TruncateByRunes(shot.Narration, snapshotLongField),
				DialogueScript: node.TruncateByRunes(shot.DialogueScript, snapshotLongField),
			})
		}
		view.Segments = append(view.Segments, sv)
	}

	b, err := json.Marshal(view)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ProjectSnapshot 项目的 facts-only 快照，作为聊天的系统消息。
// 只含结构与状态事实：简报、元素清单、段落/分镜的字段摘要与媒体就绪状态。
func ProjectSnapshot(project *entity.AgentProject) string {
	if project == nil {
		return "{}"
	}

	type elementView struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		HasImage    bool   `json:"has_image"`
	}
	type shotView struct {
		ID             string  `json:"id"`
		Name           string  `json:"name,omitempty"`
		Type           string  `json:"type"`
		Duration       float64 `json:"duration"`
		Status         string  `json:"status,omitempty"`
		Description    string  `json:"description,omitempty"`
		Prompt         string  `json:"prompt,omitempty"`
		Narration      string  `json:"narration,omitempty"`
		DialogueScript string  `json:"dialogue_script,omitempty"`
		HasStartImage  bool    `json:"has_start_image"`
		HasVideo       bool    `json:"has_video"`
		HasVoiceAudio  bool    `json:"has_voice_audio"`
	}
	type segView struct {
		ID    string     `json:"id"`
		Name  string     `json:"name,omitempty"`
		Shots []shotView `json:"shots"`
	}
	view := struct {
		ID       string               `json:"id"`
		Name     string               `json:"name"`
		Brief    entity.CreativeBrief `json:"creative_brief"`
		Elements []elementView        `json:"elements"`
		Segments []segView            `json:"segments"`
	}{ID: project.ID, Name: project.Name, Brief: project.CreativeBrief}

	for _, seg := range project.Segments {
		sv := segView{ID: seg.ID, Name: node.TruncateByRunes(seg.Name, snapshotShortField)}
		for _, shot := range seg.Shots {
			sv.Shots = append(sv.Shots, shotView{
				ID:             shot.ID,
				Name:           node.TruncateByRunes(shot.Name, snapshotShortField),
				Type:           string(shot.Type),
				Duration:       shot.Duration,
				Status:         string(shot.Status),
				Description:    node.TruncateByRunes(shot.Description, snapshotLongField),
				Prompt:         node.TruncateByRunes(shot.Prompt, snapshotLongField),
				Narration:      node.TruncateByRunes(shot.Narration, snapshotLongField),
				DialogueScript: node.TruncateByRunes(shot.DialogueScript, snapshotLongField),
				HasStartImage:  shot.StartImageURL != "",
				HasVideo:       shot.VideoURL != "",
				HasVoiceAudio:  shot.VoiceAudioURL != "",
			})
		}
		view.Segments = append(view.Segments, sv)
	}

	for _, el := range elementsInStableOrder(project) {
		view.Elements = append(view.Elements, elementView{
			ID:          el.ID,
			Name:        el.Name,
			Type:        string(el.Type),
			Description: node.TruncateByRunes(el.Description, snapshotLongField),
			HasImage:    el.ImageURL != "",
		})
	}

	b, err := json.Marshal(view)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// elementsInStableOrder 按 ID 排序元素，保证快照可复现
func elementsInStableOrder(project *entity.AgentProject) []*entity.Element {
	ids := make([]string, 0, len(project.Elements))
	for id := range project.Elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*entity.Element, 0, len(ids))
	for _, id := range ids {
		if el := project.Elements[id]; el != nil {
			out = append(out, el)
		}
	}
	return out
}
