package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, err := Reply("req-1", "chat.send", map[string]string{"ok": "true"})
	require.NoError(t, err)

	frame, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "req-1", decoded.RequestID)
	assert.Equal(t, "chat.send", decoded.Type)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	frame := []byte{0, 0, 0, 10, 1, 2, 3}
	_, err := Decode(frame)
	assert.Error(t, err)
}

func TestErrorReplyCarriesRequestID(t *testing.T) {
	env := ErrorReply("req-2", "unknown_type", "nope")
	assert.Equal(t, "req-2", env.RequestID)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unknown_type", env.Error.Code)
}

func TestEventHasNoRequestID(t *testing.T) {
	env, err := Event("presence", presenceEvent{UserID: "u1", Status: 1})
	require.NoError(t, err)
	assert.Empty(t, env.RequestID)
}
