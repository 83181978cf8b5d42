package engine

import (
	"context"

	"github.com/ggoodman/ssebridge/sse"
)

// SegmentKind distinguishes client-visible events from keepalive probes.
type SegmentKind int

const (
	// SegmentEvent is an encoded message that dispatches a client event.
	SegmentEvent SegmentKind = iota + 1
	// SegmentProbe is a comment line that clients ignore.
	SegmentProbe
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentEvent:
		return "event"
	case SegmentProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// Segment is one wire-ready unit produced by a session. Data must not be
// modified; probe segments share their backing array across writes.
type Segment struct {
	Kind SegmentKind
	Data []byte
	// Message is the decoded message for SegmentEvent, nil otherwise.
	Message *sse.Message
}

// Sink receives the segments of a session in order. A returned error ends
// the session; sinks must not retry internally.
type Sink interface {
	WriteSegment(ctx context.Context, seg Segment) error
}

type SinkFunc func(ctx context.Context, seg Segment) error

func (f SinkFunc) WriteSegment(ctx context.Context, seg Segment) error {
	return f(ctx, seg)
}
