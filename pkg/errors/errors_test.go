package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	err := New(CodeValidationFailed, "bad action")
	assert.Equal(t, "[4002] bad action", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	cause := stderrors.New("column missing")
	wrapped := Wrap(cause, CodeDatabaseError, "save failed")
	assert.Equal(t, "[5001] save failed: column missing", wrapped.Error())
	assert.Equal(t, http.StatusInternalServerError, wrapped.HTTPStatus)
	assert.True(t, stderrors.Is(wrapped, cause))
}

func TestCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeTimelineMismatch, http.StatusBadRequest},
		{CodeProjectNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodePollTimeout, http.StatusGatewayTimeout},
		{CodeTTSProvider, http.StatusInternalServerError},
		{CodeAudioMixFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus, "code %s", tt.code)
	}
}

func TestAsAppError(t *testing.T) {
	app := New(CodeShotNotFound, "missing")
	assert.Same(t, app, AsAppError(app))

	converted := AsAppError(stderrors.New("raw"))
	require.NotNil(t, converted)
	assert.Equal(t, CodeUnknown, converted.Code)

	assert.True(t, IsAppError(app))
	assert.False(t, IsAppError(stderrors.New("raw")))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeInvalidParam, "bad input").WithDetail("duration must be positive")
	assert.Equal(t, "duration must be positive", err.Detail)
}
