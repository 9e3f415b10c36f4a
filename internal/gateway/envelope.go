package gateway

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

const maxFrameBytes = 1 << 20 // 1 MiB; generous for chat/voice-signalling payloads

var ErrFrameTooLarge = errors.New("gateway: frame exceeds maximum size")

// Envelope is the wire message every WebSocket frame carries: a request
// id, a type discriminator, and a type-specific payload. RequestID is
// empty for server-initiated broadcast events.
type Envelope struct {
	RequestID string          `json:"request_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *EnvelopeError  `json:"error,omitempty"`
}

type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode returns e as a length-prefixed frame: 4-byte big-endian length
// followed by the JSON body.
func Encode(e Envelope) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(body) > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// Decode parses a single length-prefixed frame already delivered whole by
// the WebSocket reader (gorilla/websocket delivers one message per
// ReadMessage call, so framing here guards against a client sending more
// than one logical envelope glued into a single binary message).
func Decode(frame []byte) (Envelope, error) {
	if len(frame) < 4 {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(frame[:4])
	if int(n) != len(frame)-4 {
		return Envelope{}, errors.New("gateway: frame length prefix mismatch")
	}
	var e Envelope
	if err := json.Unmarshal(frame[4:], &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Reply builds a success envelope echoing requestID.
func Reply(requestID, msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{RequestID: requestID, Type: msgType, Payload: raw}, nil
}

// ErrorReply builds a structured error envelope echoing requestID, so the
// client can correlate the failure with its outstanding request.
func ErrorReply(requestID, code, message string) Envelope {
	return Envelope{RequestID: requestID, Type: "error", Error: &EnvelopeError{Code: code, Message: message}}
}

// Event builds a server-initiated broadcast envelope with no request id.
func Event(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}
