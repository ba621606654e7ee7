package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"storyboard-agent-api/internal/application/director"
	"storyboard-agent-api/internal/application/ident"
	"storyboard-agent-api/internal/application/keyword"
	"storyboard-agent-api/internal/application/port"
	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/metrics"
	"storyboard-agent-api/pkg/tracer"
)

// TTSOptions 语音合成阶段选项
type TTSOptions struct {
	ShotIDs          []string
	Overwrite        bool
	IncludeNarration bool
	IncludeDialogue  bool
}

// utteranceKind 单句语音的来源
type utteranceKind string

const (
	utteranceNarration utteranceKind = "narration"
	utteranceDialogue  utteranceKind = "dialogue"
)

// utterance 一次合成调用的最小单位
type utterance struct {
	Kind    utteranceKind
	Speaker string
	Text    string
	Voice   string
}

// GenerateSpeech 按分镜合成语音：旁白与台词分轨 + 混合轨。
// 已有语音且未要求覆盖的分镜跳过；单镜失败不阻断整批。
func (e *Executor) GenerateSpeech(ctx context.Context, project *entity.AgentProject, opts *TTSOptions, progress ProgressFunc) (*StageResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.GenerateSpeech")
	defer span.End()
	defer stageTimer(StageTTS)()

	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if opts == nil {
		opts = &TTSOptions{IncludeNarration: true, IncludeDialogue: true}
	}
	if e.providers == nil || e.providers.TTS == nil {
		return nil, errors.New(errors.CodeProviderConfig, "tts provider not configured")
	}
	flag, done := e.beginRun(project.ID)
	defer done()

	targets := e.speechTargets(project, opts)
	result := &StageResult{Stage: StageTTS, Total: len(targets)}
	emit(progress, &ProgressEvent{Type: EventStart, Stage: StageTTS, Percent: 0,
		Message: "speech synthesis started"})

	for i, shot := range targets {
		if cancelled(ctx, flag) {
			break
		}
		percent := percentOf(i, len(targets))
		if shot.VoiceAudioURL != "" && !opts.Overwrite {
			result.Skipped++
			countItem(StageTTS, "skipped")
			emit(progress, &ProgressEvent{Type: EventSkip, Stage: StageTTS, ItemID: shot.ID, Percent: percent})
			continue
		}

		emit(progress, &ProgressEvent{Type: EventGenerating, Stage: StageTTS, ItemID: shot.ID, Percent: percent})
		if err := e.synthesizeShot(ctx, project, shot, opts); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ID: shot.ID, Message: err.Error()})
			countItem(StageTTS, "failed")
			emit(progress, &ProgressEvent{Type: EventError, Stage: StageTTS, ItemID: shot.ID,
				Percent: percent, Error: err.Error()})
			continue
		}

		result.Generated++
		countItem(StageTTS, "generated")
		if err := e.save(ctx, project); err != nil {
			logger.Warn(ctx, "tts progress persist failed", "shot_id", shot.ID, "error", err)
		}
		emit(progress, &ProgressEvent{Type: EventComplete, Stage: StageTTS, ItemID: shot.ID,
			Percent: percentOf(i+1, len(targets))})
	}

	if err := e.save(ctx, project); err != nil {
		return result, err
	}
	emit(progress, &ProgressEvent{Type: EventDone, Stage: StageTTS, Percent: 100})
	e.logStageDone(ctx, result)
	return result, nil
}

func (e *Executor) speechTargets(project *entity.AgentProject, opts *TTSOptions) []*entity.Shot {
	wanted := make(map[string]struct{}, len(opts.ShotIDs))
	for _, id := range opts.ShotIDs {
		wanted[id] = struct{}{}
	}
	var out []*entity.Shot
	for _, shot := range project.AllShots() {
		if len(wanted) > 0 {
			if _, ok := wanted[shot.ID]; !ok {
				continue
			}
		}
		if strings.TrimSpace(shot.Narration) == "" && strings.TrimSpace(shot.DialogueScript) == "" {
			continue
		}
		out = append(out, shot)
	}
	return out
}

// synthesizeShot 单分镜合成：逐句合成后拼接出旁白轨、台词轨与混合轨
func (e *Executor) synthesizeShot(ctx context.Context, project *entity.AgentProject, shot *entity.Shot, opts *TTSOptions) error {
	utterances := e.buildUtterances(project, shot, opts)
	if len(utterances) == 0 {
		return errors.New(errors.CodeValidationFailed, "shot has no pronounceable text")
	}

	speed := project.CreativeBrief.TTSSpeedRatio
	if speed <= 0 {
		speed = 1.0
	}

	clips := make([]*speechClip, 0, len(utterances))
	for _, u := range utterances {
		clip, err := e.synthesizeUtterance(ctx, u, speed)
		if err != nil {
			return err
		}
		clips = append(clips, clip)
	}

	tracks, err := e.concatTracks(ctx, project.ID, shot.ID, clips)
	if err != nil {
		return err
	}

	shot.ClearVoiceAudio()
	now := time.Now()
	if tracks.Narration != nil {
		shot.NarrationAudioURL = tracks.Narration.URL
		shot.NarrationAudioDuration = tracks.Narration.DurationMS
		project.AudioAssets = append(project.AudioAssets, &entity.AudioAsset{
			ID: uuid.NewString(), Kind: entity.AudioAssetNarration, ShotID: shot.ID,
			URL: tracks.Narration.URL, DurationMS: tracks.Narration.DurationMS, CreatedAt: now,
		})
	}
	if tracks.Dialogue != nil {
		shot.DialogueAudioURL = tracks.Dialogue.URL
		shot.DialogueAudioDurationMS = tracks.Dialogue.DurationMS
		project.AudioAssets = append(project.AudioAssets, &entity.AudioAsset{
			ID: uuid.NewString(), Kind: entity.AudioAssetDialogue, ShotID: shot.ID,
			URL: tracks.Dialogue.URL, DurationMS: tracks.Dialogue.DurationMS, CreatedAt: now,
		})
	}
	if tracks.Voice != nil {
		shot.VoiceAudioURL = tracks.Voice.URL
		shot.VoiceAudioDurationMS = tracks.Voice.DurationMS
		project.AudioAssets = append(project.AudioAssets, &entity.AudioAsset{
			ID: uuid.NewString(), Kind: entity.AudioAssetVoice, ShotID: shot.ID,
			URL: tracks.Voice.URL, DurationMS: tracks.Voice.DurationMS, CreatedAt: now,
		})
	}
	return nil
}

// buildUtterances 把旁白逐句、台词逐行展开为合成单元并决定音色
func (e *Executor) buildUtterances(project *entity.AgentProject, shot *entity.Shot, opts *TTSOptions) []utterance {
	var out []utterance

	if opts.IncludeNarration {
		for _, sentence := range director.SplitNarrationSentences(shot.Narration) {
			text := sanitizeSpeechText(sentence)
			if !pronounceable(text) {
				continue
			}
			out = append(out, utterance{
				Kind:  utteranceNarration,
				Text:  text,
				Voice: e.narratorVoice(project),
			})
		}
	}

	if opts.IncludeDialogue {
		for _, line := range director.DialogueLines(shot.DialogueScript) {
			text := sanitizeSpeechText(line.Content)
			if !pronounceable(text) {
				continue
			}
			out = append(out, utterance{
				Kind:    utteranceDialogue,
				Speaker: line.Speaker,
				Text:    text,
				Voice:   e.dialogueVoice(project, line.Speaker, text),
			})
		}
	}
	return out
}

func (e *Executor) narratorVoice(project *entity.AgentProject) string {
	if v := strings.TrimSpace(project.CreativeBrief.NarratorVoiceProfile); v != "" {
		return v
	}
	return e.tts.NarratorVoiceType
}

// dialogueVoice 台词音色决策链：
// 角色元素的 voice_profile -> 关键词性别检测 -> 配置默认 -> 旁白兜底
func (e *Executor) dialogueVoice(project *entity.AgentProject, speaker, text string) string {
	el := resolveSpeakerElement(project, speaker)
	if el != nil && strings.TrimSpace(el.VoiceProfile) != "" {
		return el.VoiceProfile
	}

	var desc string
	if el != nil {
		desc = el.Description
	}
	switch keyword.DetectGender(desc, speaker, text) {
	case keyword.GenderMale:
		if e.tts.DialogueMaleVoiceType != "" {
			return e.tts.DialogueMaleVoiceType
		}
	case keyword.GenderFemale:
		if e.tts.DialogueFemaleVoiceType != "" {
			return e.tts.DialogueFemaleVoiceType
		}
	}
	if e.tts.DialogueVoiceType != "" {
		return e.tts.DialogueVoiceType
	}
	return e.narratorVoice(project)
}

// resolveSpeakerElement 把说话人名解析为角色元素：
// 精确 ID -> 不区分大小写的名称 -> 铸造 ID 匹配
func resolveSpeakerElement(project *entity.AgentProject, speaker string) *entity.Element {
	s := strings.TrimSpace(speaker)
	if s == "" {
		return nil
	}
	if el := project.FindElement(s); el != nil {
		return el
	}
	lower := strings.ToLower(s)
	for _, el := range project.Elements {
		if el == nil {
			continue
		}
		if strings.ToLower(el.Name) == lower || strings.ToLower(el.ID) == lower {
			return el
		}
	}
	return project.FindElement(ident.Coerce(ident.ElementPrefix, "", s))
}

var (
	bracketMarkerRe = regexp.MustCompile(`[\[【（(][^\]】）)]{0,40}[\]】）)]`)
	trailingLabelRe = regexp.MustCompile(`[（(][^（()）]*$`)
)

// sanitizeSpeechText 去掉元素标注、括号标记与残留标签，压缩空白
func sanitizeSpeechText(text string) string {
	s := elementTagRe.ReplaceAllString(text, "")
	s = bracketMarkerRe.ReplaceAllString(s, "")
	s = trailingLabelRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// pronounceable 至少含一个可发音字符（汉字或字母数字）
func pronounceable(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// speechClip 单句合成产物
type speechClip struct {
	Kind       utteranceKind
	Audio      []byte
	DurationMS int
}

// synthesizeUtterance 合成单句；提供商报错时换旁白默认音色重试一次
func (e *Executor) synthesizeUtterance(ctx context.Context, u utterance, speed float64) (*speechClip, error) {
	req := &port.SpeechRequest{
		Text:       u.Text,
		Voice:      u.Voice,
		Encoding:   e.ttsEncoding(),
		Rate:       e.ttsRate(),
		SpeedRatio: speed,
	}
	res, err := e.providers.TTS.Synthesize(ctx, req)
	if err != nil && req.Voice != e.tts.NarratorVoiceType && e.tts.NarratorVoiceType != "" {
		logger.Warn(ctx, "tts retry with narrator voice", "voice", req.Voice, "error", err)
		req.Voice = e.tts.NarratorVoiceType
		res, err = e.providers.TTS.Synthesize(ctx, req)
	}
	if err != nil {
		metrics.ProviderCallTotal.WithLabelValues("tts", "error").Inc()
		return nil, errors.Wrap(err, errors.CodeTTSProvider, "speech synthesis failed")
	}
	metrics.ProviderCallTotal.WithLabelValues("tts", "ok").Inc()
	if len(res.Audio) == 0 {
		return nil, errors.New(errors.CodeTTSProvider, "provider returned empty audio")
	}

	duration := res.DurationMS
	if duration <= 0 {
		duration = e.estimateClipDuration(u.Text, speed, len(res.Audio))
	}
	return &speechClip{Kind: u.Kind, Audio: res.Audio, DurationMS: duration}, nil
}

// estimateClipDuration 提供商未回报时长时的兜底估算
func (e *Executor) estimateClipDuration(text string, speed float64, audioBytes int) int {
	if e.ttsEncoding() == "pcm" {
		// 单声道 16bit PCM 可以直接按字节数换算
		return audioBytes * 1000 / (e.ttsRate() * 2)
	}
	return int(director.EstimateSpeechSeconds(text, speed) * 1000)
}

func (e *Executor) ttsEncoding() string {
	if e.ffmpegBin() == "" {
		// 无 ffmpeg 时取裸 PCM，直拼后套 WAV 头即可落盘
		return "pcm"
	}
	if e.tts.Encoding != "" {
		return e.tts.Encoding
	}
	return "mp3"
}

func (e *Executor) ttsRate() int {
	if e.tts.Rate > 0 {
		return e.tts.Rate
	}
	return 24000
}

// audioFileStem 确定性输出文件名主干：{project}_{shot}_{label}_{rand8}
func audioFileStem(projectID, shotID, label string) string {
	return fmt.Sprintf("%s_%s_%s_%s", projectID, shotID, label, randomSuffix(8))
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

// ClearSpeech 清除分镜的语音产物；removeFiles 时连带删除音频目录内的文件
func (e *Executor) ClearSpeech(ctx context.Context, project *entity.AgentProject, shotIDs []string, removeFiles bool) error {
	wanted := make(map[string]struct{}, len(shotIDs))
	for _, id := range shotIDs {
		wanted[id] = struct{}{}
	}
	for _, shot := range project.AllShots() {
		if len(wanted) > 0 {
			if _, ok := wanted[shot.ID]; !ok {
				continue
			}
		}
		if removeFiles {
			for _, u := range []string{shot.VoiceAudioURL, shot.NarrationAudioURL, shot.DialogueAudioURL} {
				if p, ok := e.cache.PathForLocalURL(u); ok && strings.Contains(p, string(filepath.Separator)+"audio"+string(filepath.Separator)) {
					if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
						logger.Warn(ctx, "audio file removal failed", "path", p, "error", err)
					}
				}
			}
		}
		shot.ClearVoiceAudio()
	}
	return e.save(ctx, project)
}
