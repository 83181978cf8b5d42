// Package ssebridge relays messages from a pub/sub bus to Server-Sent Events
// clients. This package holds the publishing side: a Publisher puts data
// messages and control signals on the bus, where every streaming session
// subscribed to the channel picks them up.
//
// The streaming side lives in package ssehttp, the bus implementations in
// package bridge and the finish markers in package lifecycle.
package ssebridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/ssebridge/bridge"
	"github.com/ggoodman/ssebridge/sse"
)

// Publisher encodes messages and control signals into bus envelopes. It is
// safe for concurrent use.
type Publisher struct {
	bridge bridge.Bridge
	log    *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets a custom logger for the Publisher.
func WithLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPublisher(b bridge.Bridge, opts ...PublisherOption) *Publisher {
	p := &Publisher{bridge: b, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish puts msg on channel and returns how many subscribers received it.
// An empty channel selects sse.DefaultChannel.
func (p *Publisher) Publish(ctx context.Context, channel string, msg sse.Message) (int64, error) {
	payload, err := msg.MarshalEnvelope()
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	return p.publish(ctx, channelOrDefault(channel), payload, "message")
}

// SendControl puts a control signal on channel. Sessions act on the signals
// they know and ignore the rest.
func (p *Publisher) SendControl(ctx context.Context, channel string, cmd sse.Control) (int64, error) {
	payload, err := cmd.MarshalEnvelope()
	if err != nil {
		return 0, fmt.Errorf("encode control: %w", err)
	}
	return p.publish(ctx, channelOrDefault(channel), payload, "control")
}

// Disconnect asks every session on channel to end its stream.
func (p *Publisher) Disconnect(ctx context.Context, channel string) (int64, error) {
	return p.SendControl(ctx, channel, sse.ControlDisconnect)
}

// HealthCheck asks every session on channel to write a probe line now.
func (p *Publisher) HealthCheck(ctx context.Context, channel string) (int64, error) {
	return p.SendControl(ctx, channel, sse.ControlHealthCheck)
}

func (p *Publisher) publish(ctx context.Context, channel string, payload []byte, kind string) (int64, error) {
	n, err := p.bridge.Publish(ctx, channel, payload)
	if err != nil {
		p.log.ErrorContext(ctx, "publish.fail", slog.String("channel", channel), slog.String("kind", kind), slog.String("err", err.Error()))
		return 0, fmt.Errorf("publish to %q: %w", channel, err)
	}
	p.log.DebugContext(ctx, "publish.ok", slog.String("channel", channel), slog.String("kind", kind), slog.Int64("delivered", n))
	return n, nil
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return sse.DefaultChannel
	}
	return channel
}
