package ssehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/ssebridge"
	"github.com/ggoodman/ssebridge/bridge"
	"github.com/ggoodman/ssebridge/internal/engine"
	"github.com/ggoodman/ssebridge/internal/logctx"
	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/sse"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// DefaultPath is where the stream is mounted unless WithPath says otherwise.
	DefaultPath = "/stream"

	// NoTimeout makes sessions block on the bus until a message arrives.
	NoTimeout = engine.NoTimeout

	channelParam = "channel"

	// maxPublishBody bounds POST bodies on the publish endpoints.
	maxPublishBody = 1 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
// Safe to call after some headers set but before status written.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger     *slog.Logger
	path       string
	publish    bool
	engineOpts []engine.EngineOption
}

// WithLogger sets the slog logger used by the handler and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithPath sets the URL path the stream is served on. Default is "/stream".
func WithPath(path string) Option {
	return func(c *newConfig) { c.path = path }
}

// WithProbe enables keepalive probe lines on idle streams. An empty payload
// selects sse.DefaultProbePayload.
func WithProbe(payload string) Option {
	return func(c *newConfig) { c.engineOpts = append(c.engineOpts, engine.WithProbe(payload)) }
}

// WithProbePayload sets the probe text used for health-check control
// signals without enabling timed probes.
func WithProbePayload(payload string) Option {
	return func(c *newConfig) { c.engineOpts = append(c.engineOpts, engine.WithProbePayload(payload)) }
}

// WithTimeout sets the receive wait window of every session. Pass
// NoTimeout to block indefinitely. Zero is invalid: sessions then fail to
// open and clients get a 500.
func WithTimeout(d time.Duration) Option {
	return func(c *newConfig) { c.engineOpts = append(c.engineOpts, engine.WithTimeout(d)) }
}

// WithUnsubscribeTimeout bounds the unsubscribe each session performs when
// it ends.
func WithUnsubscribeTimeout(d time.Duration) Option {
	return func(c *newConfig) { c.engineOpts = append(c.engineOpts, engine.WithUnsubscribeTimeout(d)) }
}

// WithPublishEndpoints mounts POST <path>/publish and POST <path>/control.
func WithPublishEndpoints() Option {
	return func(c *newConfig) { c.publish = true }
}

// Handler serves streaming sessions, and optionally publish endpoints,
// over HTTP.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	eng       *engine.Engine
	publisher *ssebridge.Publisher
	path      string
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a Handler streaming from b. A nil resolver disables
// finish tracking: streams then only end on disconnect or client departure.
func New(b bridge.Bridge, resolver lifecycle.Resolver, opts ...Option) (*Handler, error) {
	if b == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	cfg := &newConfig{logger: slog.Default(), path: DefaultPath}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	path := "/" + strings.Trim(cfg.path, "/")

	loggerWithContextHandler := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	eng, err := engine.NewEngine(b, resolver, append([]engine.EngineOption{engine.WithLogger(loggerWithContextHandler)}, cfg.engineOpts...)...)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		log:       loggerWithContextHandler,
		eng:       eng,
		publisher: ssebridge.NewPublisher(b, ssebridge.WithLogger(loggerWithContextHandler)),
		path:      path,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("GET %s", path), h.handleStream)
	if cfg.publish {
		base := strings.TrimSuffix(path, "/")
		mux.HandleFunc(fmt.Sprintf("POST %s/publish", base), h.handlePublish)
		mux.HandleFunc(fmt.Sprintf("POST %s/control", base), h.handleControl)
	}
	h.mux = mux
	return h, nil
}

// Path returns the URL path the stream is served on.
func (h *Handler) Path() string { return h.path }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func channelFrom(r *http.Request) string {
	if ch := r.URL.Query().Get(channelParam); ch != "" {
		return ch
	}
	return sse.DefaultChannel
}

// handleStream serves GET <path>. The session is opened before any header
// is written so that finished channels and setup failures can still choose
// their status code.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.not_acceptable", slog.String("accept", r.Header.Get("Accept")))
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sess, err := h.eng.Open(ctx, channelFrom(r))
	if err != nil {
		var cfgErr *engine.ConfigError
		switch {
		case errors.Is(err, engine.ErrChannelFinished):
			w.WriteHeader(http.StatusNoContent)
		case errors.As(err, &cfgErr):
			// Diagnostics stay in the logs.
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
		case errors.Is(err, context.Canceled):
			h.log.InfoContext(ctx, "sse.stream.abandoned")
		default:
			writeJSONError(w, http.StatusServiceUnavailable, "stream unavailable")
		}
		return
	}
	// Run drains on its own; this covers the paths that never reach it.
	defer sess.Close(ctx)

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	err = sess.Run(ctx, engine.SinkFunc(func(cbCtx context.Context, seg engine.Segment) error {
		if err := writeSegment(wf, seg); err != nil {
			h.log.WarnContext(cbCtx, "sse.write.fail", slog.String("err", err.Error()))
			return err
		}
		h.log.DebugContext(cbCtx, "sse.segment.deliver", slog.String("kind", seg.Kind.String()))
		return nil
	}))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.log.InfoContext(ctx, "sse.stream.client_gone", slog.Duration("dur", time.Since(start)))
		} else {
			h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
		}
		return
	}

	h.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", string(sess.CloseReason())), slog.Duration("dur", time.Since(start)))
}

// writeSegment writes one wire-ready segment and flushes it to the client.
func writeSegment(wf *lockedWriteFlusher, seg engine.Segment) error {
	if _, err := wf.Write(seg.Data); err != nil {
		return fmt.Errorf("failed to write SSE %s: %w", seg.Kind, err)
	}
	wf.Flush()
	return nil
}

type publishRequest struct {
	Channel string `json:"channel"`
	sse.Message
}

type controlRequest struct {
	Channel string      `json:"channel"`
	Command sse.Control `json:"command"`
}

type publishResponse struct {
	Delivered int64 `json:"delivered"`
}

// decodeJSONBody checks the request media type and decodes the body into v.
// On failure it has already written the error response.
func (h *Handler) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	mt, err := contenttype.GetMediaType(r)
	if err != nil || !mt.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "http.post.unsupported_media_type")
		writeJSONError(w, http.StatusUnsupportedMediaType, "body must be application/json")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody)).Decode(v); err != nil {
		h.log.WarnContext(ctx, "http.post.decode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (h *Handler) writeDelivered(w http.ResponseWriter, n int64) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(publishResponse{Delivered: n})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req publishRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}

	n, err := h.publisher.Publish(ctx, req.Channel, req.Message)
	if err != nil {
		if errors.Is(err, sse.ErrMissingData) {
			writeJSONError(w, http.StatusBadRequest, "data is required")
			return
		}
		writeJSONError(w, http.StatusBadGateway, "publish failed")
		return
	}
	h.log.InfoContext(ctx, "http.publish.ok", slog.Int64("delivered", n))
	h.writeDelivered(w, n)
}

func (h *Handler) handleControl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req controlRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeJSONError(w, http.StatusBadRequest, "command is required")
		return
	}

	n, err := h.publisher.SendControl(ctx, req.Channel, req.Command)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "publish failed")
		return
	}
	h.log.InfoContext(ctx, "http.control.ok", slog.String("command", string(req.Command)), slog.Int64("delivered", n))
	h.writeDelivered(w, n)
}
