package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ControlKey is the envelope key that marks a bus payload as a control signal.
const ControlKey = "sse-control"

// Control is an in-band instruction for streaming sessions. It travels over
// the same channel as messages but is never forwarded to clients.
type Control string

const (
	// ControlHealthCheck asks every session on the channel to write a probe
	// line immediately.
	ControlHealthCheck Control = "health-check"
	// ControlDisconnect asks every session on the channel to end its stream.
	ControlDisconnect Control = "disconnect"
)

// Known reports whether c is a control signal sessions act on. Unknown
// signals are ignored by sessions so publishers can roll out new ones first.
func (c Control) Known() bool {
	return c == ControlHealthCheck || c == ControlDisconnect
}

// MarshalEnvelope returns the bus representation of c.
func (c Control) MarshalEnvelope() ([]byte, error) {
	if c == "" {
		return nil, errors.New("sse: empty control command")
	}
	return json.Marshal(map[string]Control{ControlKey: c})
}

// Envelope is a decoded bus payload: either a control signal or a message.
type Envelope struct {
	IsControl bool
	Control   Control
	Message   Message
}

// DecodeEnvelope parses a bus payload. Any object carrying the control key
// is a control signal; every other object must be a data envelope.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if fields == nil {
		return Envelope{}, errors.New("decode envelope: payload is not an object")
	}

	if raw, ok := fields[ControlKey]; ok {
		var cmd string
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return Envelope{}, fmt.Errorf("decode control: %w", err)
		}
		return Envelope{IsControl: true, Control: Control(cmd)}, nil
	}

	rawData, ok := fields["data"]
	if !ok || string(rawData) == "null" {
		return Envelope{}, ErrMissingData
	}

	var msg Message
	var s string
	if err := json.Unmarshal(rawData, &s); err == nil {
		msg.Data = s
	} else {
		msg.Data = rawData
	}
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &msg.Type); err != nil {
			return Envelope{}, fmt.Errorf("decode type: %w", err)
		}
	}
	if raw, ok := fields["id"]; ok {
		id, err := scalarString(raw)
		if err != nil {
			return Envelope{}, fmt.Errorf("decode id: %w", err)
		}
		msg.ID = id
	}
	if raw, ok := fields["retry"]; ok {
		if err := json.Unmarshal(raw, &msg.Retry); err != nil {
			return Envelope{}, fmt.Errorf("decode retry: %w", err)
		}
	}
	return Envelope{Message: msg}, nil
}

// scalarString accepts a JSON string or number. Publishers in other languages
// commonly send numeric IDs.
func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// ProbeMarker starts every probe line. SSE clients ignore lines beginning
// with a colon.
const ProbeMarker = ":"

// DefaultProbePayload is the probe text used when none is configured.
const DefaultProbePayload = "Connection health-check"

// NewProbeLine builds the probe line for payload. The payload must fit on a
// single line.
func NewProbeLine(payload string) ([]byte, error) {
	if strings.ContainsAny(payload, "\r\n") {
		return nil, errors.New("sse: probe payload must not contain line breaks")
	}
	return []byte(ProbeMarker + payload + "\n"), nil
}
