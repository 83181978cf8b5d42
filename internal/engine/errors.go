package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelFinished is returned by Open when the channel is finished.
	// Transports answer it with a terminal response that tells the client
	// to stop reconnecting.
	ErrChannelFinished = errors.New("channel finished")
	// ErrSessionUsed is returned when Run or Segments is called on a session
	// that has already run or been closed.
	ErrSessionUsed = errors.New("session already used")
)

// ConfigError reports invalid session configuration. It is returned before
// any bridge interaction.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DecodeError reports a bus payload that could not be interpreted. The
// payload is dropped and the session continues.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string { return "decode bus payload: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// BridgeError reports a failing pub/sub bridge. It ends the session.
type BridgeError struct {
	Op  string
	Err error
}

func (e *BridgeError) Error() string { return "bridge " + e.Op + ": " + e.Err.Error() }
func (e *BridgeError) Unwrap() error { return e.Err }

// TransportError reports a failed write to the client. A single failure is
// taken as proof the peer is gone; it ends the session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport write: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
