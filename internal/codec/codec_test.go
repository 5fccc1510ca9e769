package codec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func TestMarshalKeepsRawPayload(t *testing.T) {
	type wire struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}

	data, err := Marshal(wire{Topic: "TTS.Request", Payload: json.RawMessage(`{"text":"hi"}`)})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":{"text":"hi"}`)

	var out wire
	require.NoError(t, Unmarshal(data, &out))

	var req speakRequest
	require.NoError(t, Unmarshal(out.Payload, &req))
	assert.Equal(t, "hi", req.Text)
}

func TestMarshalIndent(t *testing.T) {
	out, err := MarshalIndent(speakRequest{Text: "hello"}, "", "  ")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "\n  \"text\""))
}
