// Package redisbridge implements bridge.Bridge on top of Redis PUBLISH and
// SUBSCRIBE.
//
// Every Subscription owns a dedicated go-redis PubSub connection, so
// unsubscribing one session never disturbs another session on the same
// channel. Publishing shares the client's connection pool.
package redisbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ggoodman/ssebridge/bridge"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// pollInterval bounds each blocking read so context cancellation is
// observed even when the caller asked to block indefinitely.
const pollInterval = time.Second

// subscribeAckTimeout bounds the wait for the server to confirm SUBSCRIBE.
const subscribeAckTimeout = 5 * time.Second

// Config contains configuration options for the Redis bridge.
type Config struct {
	// Client is the Redis client to use. If nil, one is created from URL.
	Client redis.UniversalClient
	// URL is a redis:// or rediss:// connection URL, used when Client is nil.
	// Defaults to redis://localhost:6379/0. ENV: SSE_REDIS_URL
	URL string `env:"SSE_REDIS_URL,default=redis://localhost:6379/0"`
}

// Bridge is a Redis pub/sub implementation of bridge.Bridge.
type Bridge struct {
	client    redis.UniversalClient
	ownClient bool
}

var _ bridge.Bridge = (*Bridge)(nil)

// New creates a Redis-backed bridge. When cfg.Client is nil the bridge owns
// the client it creates and closes it in Close.
func New(cfg Config) (*Bridge, error) {
	if cfg.Client != nil {
		return &Bridge{client: cfg.Client}, nil
	}
	url := cfg.URL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Bridge{client: redis.NewClient(opts), ownClient: true}, nil
}

// NewFromEnv builds a Bridge using envdecode to populate Config.
func NewFromEnv() (*Bridge, error) {
	var cfg Config
	// Defaults are provided via struct tags; a missing variable is not an error.
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	return New(cfg)
}

// Ping verifies connectivity to the Redis server.
func (b *Bridge) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis client if the bridge created it.
func (b *Bridge) Close() error {
	if !b.ownClient {
		return nil
	}
	return b.client.Close()
}

// Publish sends payload to channel and returns the number of subscribers
// that received it, across every process attached to the Redis server.
func (b *Bridge) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return n, nil
}

// Subscribe opens a dedicated PubSub connection, subscribes it to channel and
// waits for the server's confirmation so that messages published after
// Subscribe returns are guaranteed to be delivered.
func (b *Bridge) Subscribe(ctx context.Context, channel string) (bridge.Subscription, error) {
	ps := b.client.Subscribe(ctx)
	if err := ps.Subscribe(ctx, channel); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, subscribeAckTimeout)
	defer cancel()
	for {
		msg, err := ps.ReceiveTimeout(ackCtx, subscribeAckTimeout)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("failed to confirm subscription to channel %s: %w", channel, err)
		}
		if sub, ok := msg.(*redis.Subscription); ok && sub.Kind == "subscribe" && sub.Channel == channel {
			break
		}
	}

	return &subscription{ps: ps, channel: channel}, nil
}

type subscription struct {
	ps      *redis.PubSub
	channel string
	once    sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Receive(ctx context.Context, timeout time.Duration) (bridge.Frame, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return bridge.Frame{}, err
		}
		wait := pollInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return bridge.Frame{Kind: bridge.FrameTimeout, Channel: s.channel}, nil
			}
			wait = min(wait, remaining)
		}

		msg, err := s.ps.ReceiveTimeout(ctx, wait)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return bridge.Frame{Kind: bridge.FrameClosed, Channel: s.channel}, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return bridge.Frame{}, ctxErr
			}
			return bridge.Frame{}, fmt.Errorf("failed to receive from channel %s: %w", s.channel, err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			return bridge.Frame{Kind: bridge.FrameMessage, Channel: s.channel, Payload: []byte(m.Payload)}, nil
		case *redis.Subscription:
			// The server dropped our subscription without us asking.
			if m.Kind == "unsubscribe" && m.Channel == s.channel {
				return bridge.Frame{Kind: bridge.FrameClosed, Channel: s.channel}, nil
			}
		case *redis.Pong:
		}
	}
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = errors.Join(s.ps.Unsubscribe(ctx, s.channel), s.ps.Close())
	})
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
