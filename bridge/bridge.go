// Package bridge defines the pub/sub contract the streaming engine consumes.
//
// A Bridge fans messages published on a channel out to every Subscription
// currently attached to that channel. Delivery is at-most-once per
// subscription; there is no replay. Implementations must be safe for
// concurrent Subscribe and Publish calls from any number of goroutines.
package bridge

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a Bridge or Subscription that has
// been closed.
var ErrClosed = errors.New("bridge: closed")

// Bridge handles channel-addressed publish and subscribe.
type Bridge interface {
	// Subscribe attaches a new subscription to channel. The returned
	// Subscription is owned by the caller, who must call Unsubscribe exactly
	// once when done with it.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Publish sends payload to every subscription currently attached to
	// channel and returns how many received it.
	Publish(ctx context.Context, channel string, payload []byte) (delivered int64, err error)
}

// Subscription is a single consumer's attachment to a channel. A
// Subscription is used by one goroutine at a time.
type Subscription interface {
	// Channel returns the channel this subscription is attached to.
	Channel() string

	// Receive waits up to timeout for the next published message. A timeout
	// of zero or less blocks until a message arrives, the subscription is
	// closed or ctx ends. Bus-protocol acknowledgements never surface here.
	Receive(ctx context.Context, timeout time.Duration) (Frame, error)

	// Unsubscribe detaches from the channel and releases the subscription's
	// resources. It is safe to call more than once; calls after the first
	// return nil.
	Unsubscribe(ctx context.Context) error
}

// FrameKind classifies the outcome of Subscription.Receive.
type FrameKind int

const (
	// FrameMessage carries a published payload.
	FrameMessage FrameKind = iota + 1
	// FrameTimeout reports that the wait window elapsed with no message.
	FrameTimeout
	// FrameClosed reports that the subscription was closed or broken.
	// No further frames will be delivered.
	FrameClosed
)

func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameTimeout:
		return "timeout"
	case FrameClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame is one result of Subscription.Receive.
type Frame struct {
	Kind    FrameKind
	Channel string
	Payload []byte
}
