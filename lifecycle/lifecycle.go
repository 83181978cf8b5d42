// Package lifecycle answers whether a channel is permanently finished.
//
// Finish tracking is optional. When it is configured for a channel, the
// application marks the channel live by creating a key (prefix + channel)
// when the underlying activity starts and deletes it when the activity ends.
// A channel whose key is absent is finished: streaming clients are told to
// stop reconnecting and active sessions wind down.
package lifecycle

import (
	"context"
	"fmt"
	"time"
)

// Status is the tri-state answer of a Resolver.
type Status int

const (
	// StatusIndeterminate means finish tracking is not configured for the
	// channel. Sessions treat it like StatusNotFinished.
	StatusIndeterminate Status = iota
	// StatusNotFinished means the channel may still receive data.
	StatusNotFinished
	// StatusFinished means the channel will never receive data again.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusIndeterminate:
		return "indeterminate"
	case StatusNotFinished:
		return "not_finished"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Resolver reports channel finish state. Implementations have no side
// effects and must be safe for concurrent use.
type Resolver interface {
	// Tracks reports whether finish tracking is configured for channel.
	Tracks(channel string) bool

	// IsFinished reports the channel's finish state. When the backing store
	// fails, implementations return the status dictated by their
	// FailurePolicy together with the error.
	IsFinished(ctx context.Context, channel string) (Status, error)
}

// FailurePolicy decides the status reported when the backing store is
// unreachable.
type FailurePolicy int

const (
	// FailOpen treats an unreachable store as StatusNotFinished, keeping
	// sessions streaming through store outages.
	FailOpen FailurePolicy = iota
	// FailClosed treats an unreachable store as StatusFinished.
	FailClosed
)

func (p FailurePolicy) status() Status {
	if p == FailClosed {
		return StatusFinished
	}
	return StatusNotFinished
}

// Untracked returns a Resolver for which no channel is tracked.
func Untracked() Resolver { return untracked{} }

type untracked struct{}

func (untracked) Tracks(string) bool { return false }

func (untracked) IsFinished(context.Context, string) (Status, error) {
	return StatusIndeterminate, nil
}

// KeyStore reports key existence in the backing store.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// MarkerStore is a KeyStore that can also create and delete keys.
type MarkerStore interface {
	KeyStore
	// MarkLive creates key. A ttl of zero or less means no expiry.
	MarkLive(ctx context.Context, key string, ttl time.Duration) error
	// MarkFinished deletes key. Deleting a missing key is not an error.
	MarkFinished(ctx context.Context, key string) error
}

// Option configures a KeyResolver.
type Option func(*KeyResolver)

// WithFailurePolicy sets the status reported when the store fails. The
// default is FailOpen.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(r *KeyResolver) { r.policy = p }
}

// KeyResolver resolves finish state from key existence. Every channel is
// tracked; use Untracked when no prefix is configured.
type KeyResolver struct {
	store  KeyStore
	prefix string
	policy FailurePolicy
}

var _ Resolver = (*KeyResolver)(nil)

// NewKeyResolver returns a resolver reading keys prefix+channel from store.
// An empty prefix is valid and uses the bare channel name as the key.
func NewKeyResolver(store KeyStore, prefix string, opts ...Option) *KeyResolver {
	r := &KeyResolver{store: store, prefix: prefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the store key tracking channel.
func (r *KeyResolver) Key(channel string) string { return r.prefix + channel }

func (r *KeyResolver) Tracks(string) bool { return true }

func (r *KeyResolver) IsFinished(ctx context.Context, channel string) (Status, error) {
	key := r.Key(channel)
	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return r.policy.status(), fmt.Errorf("check finish key %q: %w", key, err)
	}
	if ok {
		return StatusNotFinished, nil
	}
	return StatusFinished, nil
}

// Markers lets applications mark channels live or finished using the same
// key layout a KeyResolver reads.
type Markers struct {
	store  MarkerStore
	prefix string
}

func NewMarkers(store MarkerStore, prefix string) *Markers {
	return &Markers{store: store, prefix: prefix}
}

// Start marks channel live. A ttl of zero or less means no expiry.
func (m *Markers) Start(ctx context.Context, channel string, ttl time.Duration) error {
	if err := m.store.MarkLive(ctx, m.prefix+channel, ttl); err != nil {
		return fmt.Errorf("start channel %q: %w", channel, err)
	}
	return nil
}

// Finish marks channel finished.
func (m *Markers) Finish(ctx context.Context, channel string) error {
	if err := m.store.MarkFinished(ctx, m.prefix+channel); err != nil {
		return fmt.Errorf("finish channel %q: %w", channel, err)
	}
	return nil
}
