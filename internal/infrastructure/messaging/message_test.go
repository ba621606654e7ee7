package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("job-1", "video_poll", "proj-1", &VideoPollJobMessage{
		JobID:     "job-1",
		ProjectID: "proj-1",
		ShotIDs:   []string{"Shot_1"},
	})
	require.NoError(t, err)

	var payload VideoPollJobMessage
	require.NoError(t, msg.UnmarshalPayload(&payload))
	assert.Equal(t, "proj-1", payload.ProjectID)
	assert.Equal(t, []string{"Shot_1"}, payload.ShotIDs)

	msg.SetMetadata("trace_id", "abc")
	assert.Equal(t, "abc", msg.Metadata["trace_id"])
}

func TestDLQStream(t *testing.T) {
	assert.Equal(t, "dlq:stream:agent:video_poll", StreamVideoPoll.DLQStream())
}

func TestCalculateBackoff(t *testing.T) {
	cfg := DefaultBackoffConfig()

	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 8*time.Second, cfg.CalculateBackoff(3))
	// 封顶
	assert.Equal(t, time.Minute, cfg.CalculateBackoff(10))
}
