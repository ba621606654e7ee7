package pipeline

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-agent-api/internal/config"
)

func TestWrapWAV(t *testing.T) {
	pcm := make([]byte, 480) // 10ms @24kHz mono 16bit
	for i := range pcm {
		pcm[i] = byte(i)
	}
	buf := wrapWAV(pcm, 24000)

	require.Len(t, buf, 44+len(pcm))
	assert.Equal(t, "RIFF", string(buf[0:4]))
	assert.Equal(t, "WAVE", string(buf[8:12]))
	assert.Equal(t, "fmt ", string(buf[12:16]))
	assert.Equal(t, "data", string(buf[36:40]))

	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[20:22])) // PCM
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[22:24])) // 单声道
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(buf[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(buf[28:32])) // rate*2
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(buf[34:36]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(buf[40:44]))
	assert.Equal(t, pcm, buf[44:])
}

func TestPCMConcat(t *testing.T) {
	dir := t.TempDir()
	e := noFFmpeg(&Executor{cfg: config.PipelineConfig{UploadsDir: dir}})

	clips := []*speechClip{
		{Kind: utteranceNarration, Audio: make([]byte, 48000), DurationMS: 1000},
		{Kind: utteranceNarration, Audio: make([]byte, 24000), DurationMS: 500},
	}
	track, err := e.pcmConcat("proj_shot_voice_abcd1234", clips)
	require.NoError(t, err)

	// 句间补 200ms 静音
	assert.Equal(t, 1700, track.DurationMS)
	assert.Equal(t, "/api/uploads/audio/proj_shot_voice_abcd1234.wav", track.URL)

	data, err := os.ReadFile(filepath.Join(dir, "audio", "proj_shot_voice_abcd1234.wav"))
	require.NoError(t, err)
	gap := 24000 * 2 * clipGapMS / 1000
	assert.Len(t, data, 44+48000+gap+24000)
	assert.Equal(t, "RIFF", string(data[0:4]))
}

func TestConcatTracksSplitsByKind(t *testing.T) {
	dir := t.TempDir()
	e := noFFmpeg(&Executor{cfg: config.PipelineConfig{UploadsDir: dir}})

	clips := []*speechClip{
		{Kind: utteranceNarration, Audio: make([]byte, 4800), DurationMS: 100},
		{Kind: utteranceDialogue, Audio: make([]byte, 4800), DurationMS: 100},
	}
	tracks, err := e.concatTracks(context.Background(), "proj-1", "Shot_1", clips)
	require.NoError(t, err)

	require.NotNil(t, tracks.Narration)
	require.NotNil(t, tracks.Dialogue)
	require.NotNil(t, tracks.Voice)
	assert.Equal(t, 100, tracks.Narration.DurationMS)
	assert.Equal(t, 100, tracks.Dialogue.DurationMS)
	// 混合轨包含两句，句间静音 200ms
	assert.Equal(t, 400, tracks.Voice.DurationMS)
	assert.True(t, strings.Contains(tracks.Voice.URL, "_voice_"))
}

func TestConcatTracksNarrationOnly(t *testing.T) {
	dir := t.TempDir()
	e := noFFmpeg(&Executor{cfg: config.PipelineConfig{UploadsDir: dir}})

	tracks, err := e.concatTracks(context.Background(), "proj-1", "Shot_1", []*speechClip{
		{Kind: utteranceNarration, Audio: make([]byte, 4800), DurationMS: 100},
	})
	require.NoError(t, err)
	assert.NotNil(t, tracks.Narration)
	assert.Nil(t, tracks.Dialogue)
	assert.NotNil(t, tracks.Voice)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 10))
	assert.Equal(t, "cde", tail("abcde", 3))
}
