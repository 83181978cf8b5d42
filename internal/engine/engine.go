// Package engine implements streaming sessions: one per client connection,
// each relaying a pub/sub channel to a Sink until the channel finishes, the
// publisher disconnects the stream, the client goes away or the bridge
// breaks. Whatever the exit path, the session's subscription is released
// exactly once.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/ssebridge/bridge"
	"github.com/ggoodman/ssebridge/internal/logctx"
	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/sse"
	"github.com/google/uuid"
)

const defaultUnsubscribeTimeout = 5 * time.Second

// DecodeErrorHandler observes bus payloads that were dropped because they
// could not be decoded.
type DecodeErrorHandler func(ctx context.Context, channel string, err *DecodeError)

// Engine opens streaming sessions against a shared bridge and resolver. It
// is safe for concurrent use.
type Engine struct {
	bridge   bridge.Bridge
	resolver lifecycle.Resolver
	log      *slog.Logger

	timeout            timeoutSetting
	probeEnabled       bool
	probePayload       string
	prober             *prober
	unsubscribeTimeout time.Duration
	onDecodeError      DecodeErrorHandler
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithProbe enables keepalive probes: every receive window that elapses
// without a message writes one probe line carrying payload. An empty
// payload selects sse.DefaultProbePayload.
func WithProbe(payload string) EngineOption {
	return func(e *Engine) {
		e.probeEnabled = true
		if payload != "" {
			e.probePayload = payload
		}
	}
}

// WithProbePayload sets the text of probe lines without enabling timed
// probes. The payload is still used for health-check control signals.
func WithProbePayload(payload string) EngineOption {
	return func(e *Engine) {
		if payload != "" {
			e.probePayload = payload
		}
	}
}

// WithTimeout sets an explicit receive wait window, overriding the
// automatic choice. Pass NoTimeout to block indefinitely. Zero is invalid
// and makes Open fail with a *ConfigError.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = timeoutSetting{set: true, value: d} }
}

// WithUnsubscribeTimeout bounds the best-effort unsubscribe performed while
// a session drains. Default is 5s.
func WithUnsubscribeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.unsubscribeTimeout = d
		}
	}
}

// WithDecodeErrorHandler registers fn to observe dropped payloads.
func WithDecodeErrorHandler(fn DecodeErrorHandler) EngineOption {
	return func(e *Engine) { e.onDecodeError = fn }
}

// NewEngine creates an Engine. A nil resolver disables finish tracking.
func NewEngine(b bridge.Bridge, resolver lifecycle.Resolver, opts ...EngineOption) (*Engine, error) {
	if resolver == nil {
		resolver = lifecycle.Untracked()
	}
	e := &Engine{
		bridge:             b,
		resolver:           resolver,
		log:                slog.Default(),
		probePayload:       sse.DefaultProbePayload,
		unsubscribeTimeout: defaultUnsubscribeTimeout,
	}

	// Apply options (order matters; later options override earlier ones).
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	p, err := newProber(e.probeEnabled, e.probePayload)
	if err != nil {
		return nil, err
	}
	e.prober = p
	return e, nil
}

// Open prepares a session for channel. Invalid configuration yields a
// *ConfigError and a finished channel yields ErrChannelFinished; neither
// touches the bridge. Otherwise Open subscribes and returns an active
// session. The caller owns the
// session and must either run it or Close it.
func (e *Engine) Open(ctx context.Context, channel string) (*Session, error) {
	if channel == "" {
		return nil, &ConfigError{Field: "channel", Reason: "must not be empty"}
	}

	s := &Session{
		eng:     e,
		id:      uuid.NewString(),
		channel: channel,
		tracked: e.resolver.Tracks(channel),
	}
	s.logData = &logctx.StreamData{Channel: channel, SessionID: s.id, State: stateView{s}}
	s.setState(StateInit)
	ctx = logctx.WithStreamData(ctx, s.logData)

	timeout, err := resolveTimeout(e.timeout, e.prober.enabled, s.tracked)
	if err != nil {
		e.log.ErrorContext(ctx, "session.open.config.fail", slog.String("err", err.Error()))
		return nil, err
	}
	s.timeout = timeout

	status, err := e.resolver.IsFinished(ctx, channel)
	if err != nil {
		e.log.WarnContext(ctx, "lifecycle.check.fail", slog.String("status", status.String()), slog.String("err", err.Error()))
	}
	if status == lifecycle.StatusFinished {
		s.setState(StateRejected)
		e.log.InfoContext(ctx, "session.open.rejected")
		return nil, ErrChannelFinished
	}

	sub, err := e.bridge.Subscribe(ctx, channel)
	if err != nil {
		e.log.ErrorContext(ctx, "bridge.subscribe.fail", slog.String("err", err.Error()))
		return nil, &BridgeError{Op: "subscribe", Err: err}
	}
	s.sub = sub
	s.opened = time.Now()
	s.setState(StateActive)

	e.log.InfoContext(ctx, "session.open.ok", slog.Duration("timeout", timeout), slog.Bool("tracked", s.tracked), slog.Bool("probe", e.prober.enabled))
	return s, nil
}

func (e *Engine) reportDecodeError(ctx context.Context, channel string, err *DecodeError) {
	e.log.WarnContext(ctx, "bus.message.decode.fail", slog.String("err", err.Err.Error()), slog.Int("bytes", len(err.Payload)))
	if e.onDecodeError != nil {
		e.onDecodeError(ctx, channel, err)
	}
}
