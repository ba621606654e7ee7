package entity

import (
	"time"

	"github.com/google/uuid"
)

// ElementType 元素类型
type ElementType string

const (
	ElementTypeCharacter ElementType = "character"
	ElementTypeObject    ElementType = "object"
	ElementTypeScene     ElementType = "scene"
)

// Element 可复用视觉/听觉元素，分镜通过 [Element_ID] 标签引用
type Element struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Type            ElementType          `json:"type"`
	Description     string               `json:"description,omitempty"`
	ImageURL        string               `json:"image_url,omitempty"`
	CachedImageURL  string               `json:"cached_image_url,omitempty"`
	ImageHistory    []*ImageHistoryEntry `json:"image_history,omitempty"`
	ReferenceImages []string             `json:"reference_images,omitempty"`
	Prompt          string               `json:"prompt,omitempty"`
	VoiceProfile    string               `json:"voice_profile,omitempty"`
}

// ImageHistoryEntry 图片生成历史条目，history[0] 为最新
type ImageHistoryEntry struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	SourceURL  string    `json:"source_url"`
	CreatedAt  time.Time `json:"created_at"`
	IsFavorite bool      `json:"is_favorite"`
}

// NewImageHistoryEntry 创建历史条目
func NewImageHistoryEntry(url, sourceURL string) *ImageHistoryEntry {
	return &ImageHistoryEntry{
		ID:        uuid.NewString(),
		URL:       url,
		SourceURL: sourceURL,
		CreatedAt: time.Now(),
	}
}

// FavoriteOf 返回列表中的收藏条目（如有）
func FavoriteOf(history []*ImageHistoryEntry) *ImageHistoryEntry {
	for _, h := range history {
		if h != nil && h.IsFavorite {
			return h
		}
	}
	return nil
}

// PushImage 将新生成的图片置入历史头部；无收藏钉住时切换当前图片。
// 收藏条目存在时当前 image_url 保持钉在收藏条目的 source_url 上。
func (e *Element) PushImage(localURL, sourceURL string) *ImageHistoryEntry {
	entry := NewImageHistoryEntry(localURL, sourceURL)
	e.ImageHistory = append([]*ImageHistoryEntry{entry}, e.ImageHistory...)
	if FavoriteOf(e.ImageHistory) == nil {
		e.ImageURL = sourceURL
		e.CachedImageURL = localURL
	}
	return entry
}
