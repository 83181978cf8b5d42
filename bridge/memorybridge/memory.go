// Package memorybridge provides an in-process implementation of
// bridge.Bridge, suitable for tests and single-process deployments.
package memorybridge

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/ssebridge/bridge"
)

// Bridge is an in-memory bridge.Bridge. The zero value is not usable; call New.
type Bridge struct {
	mu       sync.RWMutex
	channels map[string]map[*subscription]struct{}
	closed   bool
}

var _ bridge.Bridge = (*Bridge)(nil)

func New() *Bridge {
	return &Bridge{channels: make(map[string]map[*subscription]struct{})}
}

type subscription struct {
	b       *Bridge
	channel string

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func (b *Bridge) Subscribe(ctx context.Context, channel string) (bridge.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		b:       b,
		channel: channel,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bridge.ErrClosed
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

func (b *Bridge) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, bridge.ErrClosed
	}
	// snapshot subscribers to deliver outside the bridge lock
	subs := make([]*subscription, 0, len(b.channels[channel]))
	for sub := range b.channels[channel] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var delivered int64
	for _, sub := range subs {
		if sub.enqueue(append([]byte(nil), payload...)) {
			delivered++
		}
	}
	return delivered, nil
}

// Subscribers returns the number of subscriptions attached to channel.
func (b *Bridge) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Close closes the bridge. Every attached subscription observes a
// bridge.FrameClosed on its next Receive.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*subscription
	for _, set := range b.channels {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.channels = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (b *Bridge) detach(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.channels[sub.channel]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.channels, sub.channel)
	}
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) enqueue(payload []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *subscription) Receive(ctx context.Context, timeout time.Duration) (bridge.Frame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return bridge.Frame{Kind: bridge.FrameClosed, Channel: s.channel}, nil
		}
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return bridge.Frame{Kind: bridge.FrameMessage, Channel: s.channel, Payload: payload}, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return bridge.Frame{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		case <-expired:
			return bridge.Frame{Kind: bridge.FrameTimeout, Channel: s.channel}, nil
		}
	}
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.b.detach(s)
	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}
