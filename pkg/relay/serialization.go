package relay

import (
	"encoding/json"
	"fmt"
)

// Wire framing limits.
const (
	// MaxPayload caps a single request or response payload. One task or
	// response always fits; anything larger is malformed.
	MaxPayload = 4096
)

// EncodeTask serializes a task for the wire.
func EncodeTask(t Task) ([]byte, error) {
	if !t.Kind.Valid() {
		return nil, fmt.Errorf("cannot encode task with unknown kind %d", int(t.Kind))
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("task payload %d bytes exceeds cap %d", len(data), MaxPayload)
	}
	return data, nil
}

// DecodeTask parses a task payload. The kind is validated against the
// closed message set so the dispatch table can match exhaustively.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return t, nil
}

// EncodeResponse serializes an arbiter response.
func EncodeResponse(r Response) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a response payload.
func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &r, nil
}
