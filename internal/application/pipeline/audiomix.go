package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyboard-agent-api/internal/domain/entity"
	"storyboard-agent-api/pkg/errors"
	"storyboard-agent-api/pkg/logger"
	"storyboard-agent-api/pkg/tracer"
)

// pcm 直拼时句间静音长度
const clipGapMS = 200

// 母带预览统一规格：单声道 24kHz
const masterSampleRate = 24000

// audioTrack 拼接完成的单轨产物
type audioTrack struct {
	URL        string
	DurationMS int
}

// shotTracks 单分镜的三条音轨
type shotTracks struct {
	Narration *audioTrack
	Dialogue  *audioTrack
	Voice     *audioTrack
}

// ffmpegBin 解析 ffmpeg 可执行路径；配置优先，其次 PATH。
// 找不到时返回空串，走 PCM/WAV 直拼回退。
func (e *Executor) ffmpegBin() string {
	e.ffmpegOnce.Do(func() {
		if p := strings.TrimSpace(e.cfg.FFmpegPath); p != "" {
			if _, err := os.Stat(p); err == nil {
				e.ffmpegPath = p
				return
			}
		}
		if p, err := exec.LookPath("ffmpeg"); err == nil {
			e.ffmpegPath = p
		}
	})
	return e.ffmpegPath
}

func (e *Executor) uploadsDir() string {
	if e.cfg.UploadsDir != "" {
		return e.cfg.UploadsDir
	}
	return "./uploads"
}

// audioOutput 计算音频产物的落盘路径与对外 URL
func (e *Executor) audioOutput(stem, ext string) (path, url string, err error) {
	dir := filepath.Join(e.uploadsDir(), "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.Wrap(err, errors.CodeInternalError, "failed to create audio dir")
	}
	name := stem + ext
	return filepath.Join(dir, name), e.uploadsPrefix() + "/audio/" + name, nil
}

// concatTracks 把逐句合成结果拼成三条音轨：旁白轨、台词轨与全量混合轨
func (e *Executor) concatTracks(ctx context.Context, projectID, shotID string, clips []*speechClip) (*shotTracks, error) {
	var narration, dialogue []*speechClip
	for _, c := range clips {
		if c.Kind == utteranceNarration {
			narration = append(narration, c)
		} else {
			dialogue = append(dialogue, c)
		}
	}

	out := &shotTracks{}
	var err error
	if len(narration) > 0 {
		out.Narration, err = e.concatClips(ctx, audioFileStem(projectID, shotID, "narration"), narration)
		if err != nil {
			return nil, err
		}
	}
	if len(dialogue) > 0 {
		out.Dialogue, err = e.concatClips(ctx, audioFileStem(projectID, shotID, "dialogue"), dialogue)
		if err != nil {
			return nil, err
		}
	}
	out.Voice, err = e.concatClips(ctx, audioFileStem(projectID, shotID, "voice"), clips)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// concatClips 单轨拼接；有 ffmpeg 走转码拼接，否则 PCM 直拼出 WAV
func (e *Executor) concatClips(ctx context.Context, stem string, clips []*speechClip) (*audioTrack, error) {
	if len(clips) == 0 {
		return nil, nil
	}
	if e.ffmpegBin() != "" {
		return e.ffmpegConcat(ctx, stem, clips)
	}
	return e.pcmConcat(stem, clips)
}

// ffmpegConcat 经 concat demuxer 重编码拼接；libmp3lame 失败时回退 aac/m4a
func (e *Executor) ffmpegConcat(ctx context.Context, stem string, clips []*speechClip) (*audioTrack, error) {
	tmpDir, err := os.MkdirTemp("", "ttsclips_")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternalError, "failed to create temp dir")
	}
	defer os.RemoveAll(tmpDir)

	inputExt := "." + e.ttsEncoding()
	var list strings.Builder
	total := 0
	for i, c := range clips {
		data := c.Audio
		ext := inputExt
		if e.ttsEncoding() == "pcm" {
			// 裸 PCM 先套 WAV 头，省去逐输入的采样率参数
			data = wrapWAV(data, e.ttsRate())
			ext = ".wav"
		}
		p := filepath.Join(tmpDir, fmt.Sprintf("clip_%03d%s", i, ext))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternalError, "failed to write clip")
		}
		fmt.Fprintf(&list, "file '%s'\n", p)
		total += c.DurationMS
	}
	listPath := filepath.Join(tmpDir, "concat.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternalError, "failed to write concat list")
	}

	outPath, outURL, err := e.audioOutput(stem, ".mp3")
	if err != nil {
		return nil, err
	}
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c:a", "libmp3lame", "-q:a", "4", outPath}
	if err := e.runFFmpeg(ctx, args...); err != nil {
		logger.Warn(ctx, "mp3 concat failed, falling back to aac", "error", err)
		outPath, outURL, err = e.audioOutput(stem, ".m4a")
		if err != nil {
			return nil, err
		}
		args = []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c:a", "aac", outPath}
		if err := e.runFFmpeg(ctx, args...); err != nil {
			return nil, errors.Wrap(err, errors.CodeAudioMixFailed, "audio concat failed")
		}
	}
	return &audioTrack{URL: outURL, DurationMS: total}, nil
}

// pcmConcat 无 ffmpeg 的回退：裸 PCM 直拼，句间补静音，套 WAV 头落盘
func (e *Executor) pcmConcat(stem string, clips []*speechClip) (*audioTrack, error) {
	rate := e.ttsRate()
	gap := make([]byte, rate*2*clipGapMS/1000)

	var pcm []byte
	total := 0
	for i, c := range clips {
		if i > 0 {
			pcm = append(pcm, gap...)
			total += clipGapMS
		}
		pcm = append(pcm, c.Audio...)
		total += c.DurationMS
	}

	outPath, outURL, err := e.audioOutput(stem, ".wav")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, wrapWAV(pcm, rate), 0o644); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternalError, "failed to write wav")
	}
	return &audioTrack{URL: outURL, DurationMS: total}, nil
}

// wrapWAV 给单声道 16bit PCM 加 RIFF 头
func wrapWAV(pcm []byte, rate int) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func (e *Executor) runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegBin(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(string(out), 400))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MasterAudio 母带预览产物
type MasterAudio struct {
	NarrationURL string `json:"narration_url"`
	MixURL       string `json:"mix_url"`
	DurationMS   int    `json:"duration_ms"`
}

// RenderMasterAudio 按时间线渲染两条母带预览：纯旁白轨与旁白+台词混音轨。
// 每个分镜的片段按声明时长补静音或截断，缺轨的分镜用整段静音占位。
func (e *Executor) RenderMasterAudio(ctx context.Context, project *entity.AgentProject) (*MasterAudio, error) {
	ctx, span := tracer.Start(ctx, "pipeline.RenderMasterAudio")
	defer span.End()

	if project == nil {
		return nil, errors.ErrProjectNotFound
	}
	if e.ffmpegBin() == "" {
		return nil, errors.New(errors.CodeAudioMixFailed, "ffmpeg not available for master rendering")
	}
	shots := project.AllShots()
	if len(shots) == 0 {
		return nil, errors.New(errors.CodeValidationFailed, "project has no shots")
	}

	tmpDir, err := os.MkdirTemp("", "master_")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternalError, "failed to create temp dir")
	}
	defer os.RemoveAll(tmpDir)

	var narrationList, mixList strings.Builder
	totalMS := 0
	for i, shot := range shots {
		dur := shot.Duration
		if dur <= 0 {
			dur = entity.MinShotSeconds
		}
		totalMS += int(dur * 1000)

		seg, err := e.renderShotSegment(ctx, tmpDir, fmt.Sprintf("n_%03d", i), dur,
			e.localAudioPath(shot.NarrationAudioURL), "")
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&narrationList, "file '%s'\n", seg)

		seg, err = e.renderShotSegment(ctx, tmpDir, fmt.Sprintf("m_%03d", i), dur,
			e.localAudioPath(shot.NarrationAudioURL), e.localAudioPath(shot.DialogueAudioURL))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&mixList, "file '%s'\n", seg)
	}

	narrationURL, err := e.concatMaster(ctx, tmpDir, "narration_list.txt", narrationList.String(),
		audioFileStem(project.ID, "master", "narration"))
	if err != nil {
		return nil, err
	}
	mixURL, err := e.concatMaster(ctx, tmpDir, "mix_list.txt", mixList.String(),
		audioFileStem(project.ID, "master", "mix"))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	project.AudioAssets = append(project.AudioAssets,
		&entity.AudioAsset{ID: uuid.NewString(), Kind: entity.AudioAssetMaster,
			URL: narrationURL, DurationMS: totalMS, CreatedAt: now},
		&entity.AudioAsset{ID: uuid.NewString(), Kind: entity.AudioAssetMaster,
			URL: mixURL, DurationMS: totalMS, CreatedAt: now},
	)
	if err := e.save(ctx, project); err != nil {
		return nil, err
	}
	return &MasterAudio{NarrationURL: narrationURL, MixURL: mixURL, DurationMS: totalMS}, nil
}

// renderShotSegment 渲染单分镜片段：统一 24kHz 单声道，补齐/截断到分镜时长。
// secondary 非空时与 primary 做 amix。
func (e *Executor) renderShotSegment(ctx context.Context, tmpDir, name string, seconds float64, primary, secondary string) (string, error) {
	out := filepath.Join(tmpDir, name+".mp3")
	durArg := fmt.Sprintf("%.3f", seconds)
	fit := fmt.Sprintf("apad,atrim=0:%s,aresample=%d", durArg, masterSampleRate)

	var args []string
	switch {
	case primary == "" && secondary == "":
		args = []string{"-y", "-f", "lavfi",
			"-i", fmt.Sprintf("anullsrc=r=%d:cl=mono", masterSampleRate),
			"-t", durArg, "-c:a", "libmp3lame", "-q:a", "4", out}
	case primary != "" && secondary != "":
		args = []string{"-y", "-i", primary, "-i", secondary,
			"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=longest," + fit,
			"-ac", "1", "-c:a", "libmp3lame", "-q:a", "4", out}
	default:
		in := primary
		if in == "" {
			in = secondary
		}
		args = []string{"-y", "-i", in, "-af", fit,
			"-ac", "1", "-c:a", "libmp3lame", "-q:a", "4", out}
	}
	if err := e.runFFmpeg(ctx, args...); err != nil {
		return "", errors.Wrap(err, errors.CodeAudioMixFailed, "segment rendering failed")
	}
	return out, nil
}

func (e *Executor) concatMaster(ctx context.Context, tmpDir, listName, list, stem string) (string, error) {
	listPath := filepath.Join(tmpDir, listName)
	if err := os.WriteFile(listPath, []byte(list), 0o644); err != nil {
		return "", errors.Wrap(err, errors.CodeInternalError, "failed to write concat list")
	}
	outPath, outURL, err := e.audioOutput(stem, ".mp3")
	if err != nil {
		return "", err
	}
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-c:a", "libmp3lame", "-q:a", "4", outPath}
	if err := e.runFFmpeg(ctx, args...); err != nil {
		return "", errors.Wrap(err, errors.CodeAudioMixFailed, "master concat failed")
	}
	return outURL, nil
}

// localAudioPath URL 转本地路径；不存在或非本地时返回空串，占位为静音
func (e *Executor) localAudioPath(localURL string) string {
	p, ok := e.cache.PathForLocalURL(localURL)
	if !ok {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
