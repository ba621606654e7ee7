package director

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"storyboard-agent-api/internal/domain/entity"
)

const (
	// softShotCap 触发拆分的口播时长软上限
	softShotCap = entity.MaxShotSeconds - 0.6
	// fitGapRatio 后处理允许的总时长相对误差
	fitGapRatio = 0.08
	// capGapRatio 语速打到边界后仍允许的误差
	capGapRatio = 0.05
	// maxHintRunes 去重提示的最大字符数
	maxHintRunes = 60
)

// SpeedGrid 候选语速档位，0.85–1.25 步进 0.05
func SpeedGrid() []float64 {
	grid := make([]float64, 0, 9)
	for i := 0; i <= 8; i++ {
		grid = append(grid, math.Round((0.85+0.05*float64(i))*100)/100)
	}
	return grid
}

// 拆分部分的视觉差异化提示，按部分序号取用
var partVisualHints = []string{
	"建立场景（远景）",
	"动作推进（中景）",
	"情绪与细节（特写）",
	"道具/环境细节",
}

// PostprocessResult 音频驱动后处理的结果摘要
type PostprocessResult struct {
	TargetSeconds    float64 `json:"target_seconds"`
	SpeedRatio       float64 `json:"speed_ratio"`
	TotalSeconds     float64 `json:"total_seconds"`
	SplitShots       int     `json:"split_shots"`
	ExtendSteps      int     `json:"extend_steps"`
	NeedsDurationFit bool    `json:"needs_duration_fit"`
}

// PostprocessPlan 音频驱动的规划后处理：
// 解析目标总时长 → 选语速 → 按口播时长拆分超限分镜 → 补齐总时长 → 提示词去重。
// 对已处理过的规划幂等（误差在容忍范围内时不再拆分、不改语速）。
func PostprocessPlan(plan *Plan, userRequest string) *PostprocessResult {
	result := &PostprocessResult{}

	target := plan.CreativeBrief.TargetDurationSeconds
	if target <= 0 {
		target = ParseTargetDuration(userRequest, plan.CreativeBrief.Duration)
	}
	result.TargetSeconds = target

	speed := pickSpeedRatio(plan, target)
	plan.CreativeBrief.TTSSpeedRatio = speed
	if target > 0 {
		plan.CreativeBrief.TargetDurationSeconds = target
	}
	result.SpeedRatio = speed

	result.SplitShots = splitOverlongShots(plan, speed)

	if target > 0 {
		result.ExtendSteps = extendToTarget(plan, target)
	}

	dedupePrompts(plan)

	total := planTotalSeconds(plan)
	result.TotalSeconds = total
	if target > 0 {
		gap := math.Abs(total-target) / target
		atCap := speed <= 0.85+1e-9 || speed >= 1.25-1e-9
		result.NeedsDurationFit = gap > fitGapRatio || (atCap && gap > capGapRatio)
	}
	return result
}

// pickSpeedRatio 在档位网格里选出拆分后估算总时长最接近目标的语速；
// 打平时取更接近 1.0 的档位。无目标时沿用既有语速或 1.0。
func pickSpeedRatio(plan *Plan, target float64) float64 {
	if target <= 0 {
		if r := plan.CreativeBrief.TTSSpeedRatio; r >= 0.85 && r <= 1.25 {
			return r
		}
		return 1.0
	}
	best := 1.0
	bestDiff := math.Inf(1)
	for _, speed := range SpeedGrid() {
		diff := math.Abs(simulateTotalSeconds(plan, speed) - target)
		if diff < bestDiff-1e-9 ||
			(math.Abs(diff-bestDiff) <= 1e-9 && math.Abs(speed-1.0) < math.Abs(best-1.0)) {
			best = speed
			bestDiff = diff
		}
	}
	return best
}

// simulateTotalSeconds 估算给定语速下拆分后的总时长（不修改规划）
func simulateTotalSeconds(plan *Plan, speed float64) float64 {
	total := 0.0
	for _, shot := range plan.AllShots() {
		parts := buildSpeechParts(shot, speed)
		if len(parts) <= 1 {
			total += clampShotSeconds(math.Max(shot.Duration, entity.RoundDurationUp(shotSpeech(shot, speed))))
			continue
		}
		for _, p := range parts {
			total += clampShotSeconds(entity.RoundDurationUp(p.seconds))
		}
	}
	return total
}

func planTotalSeconds(plan *Plan) float64 {
	total := 0.0
	for _, shot := range plan.AllShots() {
		total += shot.Duration
	}
	return total
}

func clampShotSeconds(v float64) float64 {
	if v < entity.MinShotSeconds {
		return entity.MinShotSeconds
	}
	if v > entity.MaxShotSeconds {
		return entity.MaxShotSeconds
	}
	return v
}

func shotSpeech(shot *entity.Shot, speed float64) float64 {
	return EstimateShotSpeechSeconds(shot.Narration, shot.DialogueScript, speed)
}

// speechPart 拆分后的一个口播分段
type speechPart struct {
	narration []string
	dialogue  []SpeakerLine
	seconds   float64
}

// buildSpeechParts 把分镜的旁白+台词按口播顺序装箱到软上限内。
// 旁白按强句界为单元；台词按行为单元且从不跨说话人切开。
func buildSpeechParts(shot *entity.Shot, speed float64) []speechPart {
	if shotSpeech(shot, speed) <= softShotCap {
		return nil
	}

	type unit struct {
		narration string
		line      *SpeakerLine
		seconds   float64
	}
	var units []unit
	for _, chunk := range narrationUnits(shot.Narration, speed) {
		units = append(units, unit{narration: chunk, seconds: EstimateSpeechSeconds(chunk, speed)})
	}
	for _, l := range DialogueLines(shot.DialogueScript) {
		l := l
		units = append(units, unit{line: &l, seconds: EstimateSpeechSeconds(l.Content, speed)})
	}
	if len(units) <= 1 {
		return nil
	}

	var parts []speechPart
	cur := speechPart{}
	for _, u := range units {
		if cur.seconds > 0 && cur.seconds+u.seconds > softShotCap {
			parts = append(parts, cur)
			cur = speechPart{}
		}
		if u.line != nil {
			cur.dialogue = append(cur.dialogue, *u.line)
		} else {
			cur.narration = append(cur.narration, u.narration)
		}
		cur.seconds += u.seconds
	}
	if cur.seconds > 0 || len(cur.narration) > 0 || len(cur.dialogue) > 0 {
		parts = append(parts, cur)
	}
	if len(parts) <= 1 {
		return nil
	}
	return parts
}

// narrationUnits 旁白的拆分单元：强句界优先，超限句子退化到逗号再硬切
func narrationUnits(text string, speed float64) []string {
	var units []string
	for _, s := range SplitNarrationSentences(text) {
		if EstimateSpeechSeconds(s, speed) <= softShotCap {
			units = append(units, s)
			continue
		}
		for _, part := range splitByWeakBoundaries(s) {
			if EstimateSpeechSeconds(part, speed) <= softShotCap {
				units = append(units, part)
				continue
			}
			maxRunes := int(softShotCap * speed * 4.0)
			if maxRunes < 8 {
				maxRunes = 8
			}
			units = append(units, hardWrapByRunes(part, maxRunes)...)
		}
	}
	return units
}

// splitOverlongShots 把口播超限的分镜拆成 _P{k} 部分；父分镜保留原 ID 作为第一部分。
// 返回被拆分的分镜数。
func splitOverlongShots(plan *Plan, speed float64) int {
	split := 0
	for _, seg := range plan.Segments {
		var shots []*entity.Shot
		for _, shot := range seg.Shots {
			parts := buildSpeechParts(shot, speed)
			if len(parts) <= 1 {
				// 未拆分的分镜同样收敛到 [2,6]，且不短于口播时长
				shot.Duration = clampShotSeconds(math.Max(shot.Duration, entity.RoundDurationUp(shotSpeech(shot, speed))))
				shots = append(shots, shot)
				continue
			}
			shots = append(shots, expandShot(shot, parts)...)
			split++
		}
		seg.Shots = shots
	}
	return split
}

// expandShot 把分镜展开为多个部分，第一部分复用父分镜对象
func expandShot(parent *entity.Shot, parts []speechPart) []*entity.Shot {
	out := make([]*entity.Shot, 0, len(parts))
	for k, p := range parts {
		var shot *entity.Shot
		if k == 0 {
			shot = parent
		} else {
			clone := *parent
			clone.ID = fmt.Sprintf("%s_P%d", parent.ID, k+1)
			clone.Name = fmt.Sprintf("%s（%d）", parent.Name, k+1)
			clone.Status = entity.ShotStatusPending
			clone.StartImageURL = ""
			clone.CachedStartImageURL = ""
			clone.StartImageHistory = nil
			clone.VideoURL = ""
			clone.VideoSourceURL = ""
			clone.CachedVideoURL = ""
			clone.VideoTaskID = ""
			shot = &clone
		}
		shot.Narration = strings.Join(p.narration, "")
		shot.DialogueScript = FormatDialogue(p.dialogue)
		shot.Duration = clampShotSeconds(entity.RoundDurationUp(p.seconds))
		applyPartHint(shot, k)
		out = append(out, shot)
	}
	return out
}

// applyPartHint 为拆分部分追加视觉差异化提示；已含提示时不重复
func applyPartHint(shot *entity.Shot, partIndex int) {
	hint := partVisualHints[min(partIndex, len(partVisualHints)-1)]
	shot.Prompt = appendHint(shot.Prompt, hint)
	shot.VideoPrompt = appendHint(shot.VideoPrompt, hint)
	shot.Description = appendHint(shot.Description, hint)
}

func appendHint(text, hint string) string {
	text = strings.TrimLeft(strings.TrimSpace(text), "，,。.；; ")
	if strings.Contains(text, hint) {
		return text
	}
	if text == "" {
		return hint
	}
	return text + "，" + hint
}

// extendToTarget 总时长不足时按 0.5s 步进延长分镜，优先余量最大者。
// 迭代上限 3·N，单分镜不超过 6.0s。返回实际延长次数。
func extendToTarget(plan *Plan, target float64) int {
	shots := plan.AllShots()
	limit := 3 * len(shots)
	steps := 0
	for steps < limit && planTotalSeconds(plan)+1e-9 < target {
		var pick *entity.Shot
		slack := 0.0
		for _, s := range shots {
			if room := entity.MaxShotSeconds - s.Duration; room > slack+1e-9 {
				slack = room
				pick = s
			}
		}
		if pick == nil {
			break
		}
		pick.Duration += 0.5
		steps++
	}
	return steps
}

var (
	elementRefRe = regexp.MustCompile(`\[\s*Element_[A-Za-z0-9_]+\s*\]`)
)

// NormalizedPromptKey 起始帧提示词的归一化键：
// 小写、元素引用匿名化、去标点与空白。用于重复检测。
func NormalizedPromptKey(prompt string) string {
	s := elementRefRe.ReplaceAllString(prompt, "[ref]")
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PromptKeyCounts 统计规划内各分镜提示词归一化键的出现次数
func PromptKeyCounts(shots []*entity.Shot) map[string]int {
	counts := make(map[string]int)
	for _, s := range shots {
		src := s.Prompt
		if src == "" {
			src = s.Description
		}
		if key := NormalizedPromptKey(src); key != "" {
			counts[key]++
		}
	}
	return counts
}

// CompactShotHint 由分镜名与旁白/描述构造不超过 60 字符的紧凑提示
func CompactShotHint(shot *entity.Shot) string {
	body := shot.Narration
	if strings.TrimSpace(body) == "" {
		body = shot.Description
	}
	body = compactText(body)
	hint := strings.TrimSpace(shot.Name)
	if body != "" {
		if hint != "" {
			hint += "：" + body
		} else {
			hint = body
		}
	}
	return truncateRunes(hint, maxHintRunes)
}

func compactText(s string) string {
	s = elementRefRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}

// dedupePrompts 归一化键出现 ≥2 次的提示词追加紧凑提示以差异化
func dedupePrompts(plan *Plan) {
	shots := plan.AllShots()
	counts := PromptKeyCounts(shots)

	for _, s := range shots {
		src := s.Prompt
		if src == "" {
			src = s.Description
		}
		key := NormalizedPromptKey(src)
		if key == "" || counts[key] < 2 {
			continue
		}
		hint := CompactShotHint(s)
		if hint == "" || strings.Contains(s.Prompt, hint) {
			continue
		}
		if s.Prompt == "" {
			s.Prompt = src
		}
		s.Prompt = appendHint(s.Prompt, "（"+hint+"）")
	}
}
