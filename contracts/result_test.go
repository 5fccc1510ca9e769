package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryResultFrom(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		ok      bool
		errMsg  string
	}{
		{"query result value", Failure("no such job"), false, "no such job"},
		{"query result pointer", &QueryResult{OK: true, Data: 1}, true, ""},
		{"raw result", json.RawMessage(`{"ok":false,"error":"boom"}`), false, "boom"},
		{"raw data", json.RawMessage(`[1,2,3]`), true, ""},
		{"decoded map", map[string]any{"ok": true, "data": "x"}, true, ""},
		{"plain map", map[string]any{"jobs": 2}, true, ""},
		{"plain value", "done", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := QueryResultFrom(tt.payload)
			assert.Equal(t, tt.ok, result.OK)
			assert.Equal(t, tt.errMsg, result.Error)
		})
	}
}

func TestQueryResultDecode(t *testing.T) {
	type job struct {
		ID   string `json:"id"`
		Cron string `json:"cron"`
	}

	raw := QueryResultFrom(json.RawMessage(`{"ok":true,"data":[{"id":"j1","cron":"* * * * *"}]}`))
	require.True(t, raw.OK)

	var jobs []job
	require.NoError(t, raw.Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)

	typed := Success([]job{{ID: "j2"}})
	jobs = nil
	require.NoError(t, typed.Decode(&jobs))
	assert.Equal(t, "j2", jobs[0].ID)
}

func TestErrors(t *testing.T) {
	t.Run("validation error lists similar topics", func(t *testing.T) {
		err := &ValidationError{Topic: "TTS.Reqest", Op: "publish", Reason: "topic is not registered", Similar: []string{"TTS.Request"}}
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Contains(t, err.Error(), "TTS.Request")
	})

	t.Run("queue full error", func(t *testing.T) {
		var err error = &QueueFullError{Topic: "TTS.Request", Capacity: 10}
		assert.True(t, errors.Is(err, ErrQueueFull))
		var qf *QueueFullError
		require.True(t, errors.As(err, &qf))
		assert.Equal(t, 10, qf.Capacity)
	})

	t.Run("delivery error unwraps", func(t *testing.T) {
		cause := errors.New("speaker busy")
		err := &DeliveryError{Topic: "TTS.Request", MessageID: "m", Attempt: 1, Err: cause}
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("timeout message", func(t *testing.T) {
		assert.Equal(t, "request timeout after 2s", TimeoutMessage(2*time.Second))
	})
}
