package engine

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/ssebridge/bridge"
	"github.com/ggoodman/ssebridge/internal/logctx"
	"github.com/ggoodman/ssebridge/lifecycle"
)

// State is a session's lifecycle state.
type State int32

const (
	StateInit State = iota
	StateRejected
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRejected:
		return "rejected"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a session left the active state.
type CloseReason string

const (
	CloseFinished     CloseReason = "finished"
	CloseDisconnect   CloseReason = "disconnect"
	CloseWriteFailed  CloseReason = "write-failed"
	CloseBridgeClosed CloseReason = "bridge-closed"
	CloseBridgeError  CloseReason = "bridge-error"
	CloseCanceled     CloseReason = "canceled"
	CloseStopped      CloseReason = "stopped"
	CloseClosed       CloseReason = "closed"
)

// errStopped is returned by the Segments sink when the consumer stops
// iterating.
var errStopped = errors.New("segment consumer stopped")

// Session relays one channel to one client. It exclusively owns its bridge
// subscription from Open until it drains. A Session runs at most once.
type Session struct {
	eng     *Engine
	id      string
	channel string
	tracked bool
	timeout time.Duration
	sub     bridge.Subscription
	opened  time.Time
	logData *logctx.StreamData

	state   atomic.Int32
	started atomic.Bool

	reasonMu sync.Mutex
	reason   CloseReason

	drainOnce sync.Once
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Channel() string { return s.channel }

// Timeout returns the resolved receive wait window; zero means the session
// blocks until a message arrives.
func (s *Session) Timeout() time.Duration { return s.timeout }

func (s *Session) State() State { return State(s.state.Load()) }

// CloseReason returns why the session stopped, or "" while it is active.
func (s *Session) CloseReason() CloseReason {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// stateView renders the live session state into log records.
type stateView struct{ s *Session }

func (v stateView) String() string { return v.s.State().String() }

// setReason records the first reason only.
func (s *Session) setReason(r CloseReason) {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	if s.reason == "" {
		s.reason = r
	}
}

// Run relays the channel to sink until a terminal condition, then drains.
// It returns nil when the channel finished, the publisher disconnected the
// stream or the bridge closed the subscription; a *TransportError when the
// sink failed; a *BridgeError when the bridge failed; and ctx.Err() on
// cancellation. Draining runs on every return path, including panics.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}
	ctx = logctx.WithStreamData(ctx, s.logData)
	defer s.drain(ctx)

	log := s.eng.log
	for {
		if err := ctx.Err(); err != nil {
			s.setReason(CloseCanceled)
			return err
		}

		if s.tracked {
			status, err := s.eng.resolver.IsFinished(ctx, s.channel)
			if err != nil {
				log.WarnContext(ctx, "lifecycle.check.fail", slog.String("status", status.String()), slog.String("err", err.Error()))
			}
			if status == lifecycle.StatusFinished {
				s.setReason(CloseFinished)
				return nil
			}
		}

		frame, err := s.sub.Receive(ctx, s.timeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.setReason(CloseCanceled)
				return ctxErr
			}
			s.setReason(CloseBridgeError)
			log.ErrorContext(ctx, "bridge.receive.fail", slog.String("err", err.Error()))
			return &BridgeError{Op: "receive", Err: err}
		}

		switch frame.Kind {
		case bridge.FrameTimeout:
			if seg, ok := s.eng.prober.onTimeout(); ok {
				if err := s.write(ctx, sink, seg); err != nil {
					return err
				}
			}

		case bridge.FrameClosed:
			s.setReason(CloseBridgeClosed)
			log.InfoContext(ctx, "bridge.subscription.closed")
			return nil

		case bridge.FrameMessage:
			d, err := interpret(frame.Payload)
			if err != nil {
				var decErr *DecodeError
				if errors.As(err, &decErr) {
					s.eng.reportDecodeError(ctx, s.channel, decErr)
				}
				continue
			}
			switch d.action {
			case actionForward:
				if err := s.write(ctx, sink, d.segment); err != nil {
					return err
				}
			case actionProbe:
				if err := s.write(ctx, sink, s.eng.prober.forced()); err != nil {
					return err
				}
			case actionDisconnect:
				s.setReason(CloseDisconnect)
				log.InfoContext(ctx, "control.disconnect")
				return nil
			case actionIgnore:
				log.DebugContext(ctx, "control.unknown.ignore", slog.String("control", string(d.control)))
			}

		default:
			log.WarnContext(ctx, "bridge.frame.unknown", slog.Int("kind", int(frame.Kind)))
		}
	}
}

func (s *Session) write(ctx context.Context, sink Sink, seg Segment) error {
	if err := sink.WriteSegment(ctx, seg); err != nil {
		if errors.Is(err, errStopped) {
			s.setReason(CloseStopped)
		} else {
			s.setReason(CloseWriteFailed)
		}
		return &TransportError{Err: err}
	}
	return nil
}

// Segments returns the session's output as a single-use, pull-based
// sequence. Stopping the iteration early drains the session just like any
// other exit. A terminal error, if any, is yielded last with a zero Segment.
func (s *Session) Segments(ctx context.Context) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		err := s.Run(ctx, SinkFunc(func(_ context.Context, seg Segment) error {
			if !yield(seg, nil) {
				return errStopped
			}
			return nil
		}))
		if err != nil && !errors.Is(err, errStopped) {
			yield(Segment{}, err)
		}
	}
}

// Close drains the session if it has not drained yet. It is safe to call
// concurrently with Run, which then observes a closed subscription and
// returns, and safe to call any number of times. Deferring Close right after
// Open guarantees release even when the session is never run.
func (s *Session) Close(ctx context.Context) {
	s.started.Store(true)
	s.setReason(CloseClosed)
	s.drain(logctx.WithStreamData(ctx, s.logData))
}

// drain performs the single best-effort unsubscribe. A failed unsubscribe is
// logged and not retried; the subscription counts as released either way.
func (s *Session) drain(ctx context.Context) {
	s.drainOnce.Do(func() {
		s.setState(StateDraining)

		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eng.unsubscribeTimeout)
		defer cancel()
		if err := s.sub.Unsubscribe(uctx); err != nil {
			s.eng.log.WarnContext(ctx, "bridge.unsubscribe.fail", slog.String("err", err.Error()))
		}

		s.setState(StateClosed)
		s.eng.log.InfoContext(ctx, "session.closed", slog.String("reason", string(s.CloseReason())), slog.Duration("dur", time.Since(s.opened)))
	})
}
