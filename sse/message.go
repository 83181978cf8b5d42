package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// DefaultChannel is used by publishers and transports when no channel is named.
const DefaultChannel = "sse"

// ErrMissingData is returned when a data envelope has no "data" key.
var ErrMissingData = errors.New("sse: message data is required")

// Message is a unit of data published as a server-sent event. Messages are
// immutable once published.
type Message struct {
	// Data is the event payload. Strings (and json.RawMessage) are written to
	// the client verbatim; any other value is JSON-encoded first.
	Data any `json:"data"`
	// Type is the optional event type. Clients dispatch typed events to
	// listeners registered for that type instead of onmessage.
	Type string `json:"type,omitempty"`
	// ID is the optional event ID.
	ID string `json:"id,omitempty"`
	// Retry is the optional reconnect interval hint in milliseconds.
	Retry int `json:"retry,omitempty"`
}

// MarshalEnvelope returns the bus representation of m.
func (m Message) MarshalEnvelope() ([]byte, error) {
	if m.Data == nil {
		return nil, ErrMissingData
	}
	return json.Marshal(m)
}

// Text returns the data payload as it will appear on the wire before line
// splitting.
func (m Message) Text() (string, error) {
	switch v := m.Data.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case nil:
		return "", ErrMissingData
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// Encode renders m in the text/event-stream wire format, terminated by the
// blank line that dispatches the event on the client.
func (m Message) Encode() ([]byte, error) {
	text, err := m.Text()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if m.Type != "" {
		buf.WriteString("event:")
		buf.WriteString(m.Type)
		buf.WriteByte('\n')
	}
	for _, line := range splitLines(text) {
		buf.WriteString("data:")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if m.ID != "" {
		buf.WriteString("id:")
		buf.WriteString(m.ID)
		buf.WriteByte('\n')
	}
	if m.Retry > 0 {
		buf.WriteString("retry:")
		buf.WriteString(strconv.Itoa(m.Retry))
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 {
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// String implements fmt.Stringer using the wire format. Encoding errors are
// rendered as an empty string.
func (m Message) String() string {
	b, err := m.Encode()
	if err != nil {
		return ""
	}
	return string(b)
}

// splitLines breaks s on \r\n, \r and \n. A trailing terminator does not
// produce an empty final line and an empty input yields no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for len(s) > 0 {
		i := strings.IndexAny(s, "\r\n")
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i])
		if s[i] == '\r' && i+1 < len(s) && s[i+1] == '\n' {
			i++
		}
		s = s[i+1:]
	}
	return lines
}
