package ssehttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge/bridge/memorybridge"
	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/lifecycle/memorylifecycle"
	"github.com/ggoodman/ssebridge/ssehttp"
)

func mustServer(t *testing.T, b *memorybridge.Bridge, resolver lifecycle.Resolver, opts ...ssehttp.Option) *httptest.Server {
	t.Helper()
	opts = append([]ssehttp.Option{ssehttp.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	h, err := ssehttp.New(b, resolver, opts...)
	if err != nil {
		t.Fatalf("ssehttp.New: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func mustGetStream(t *testing.T, ctx context.Context, srv *httptest.Server, query string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream"+query, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func mustPublish(t *testing.T, b *memorybridge.Bridge, channel, payload string) {
	t.Helper()
	if _, err := b.Publish(context.Background(), channel, []byte(payload)); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func mustReadAll(t *testing.T, r io.Reader) string {
	t.Helper()
	done := make(chan struct{})
	var body []byte
	var err error
	go func() {
		defer close(done)
		body, err = io.ReadAll(r)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("stream did not end")
	}
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream(t *testing.T) {
	t.Run("relays messages then ends on disconnect", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		resp := mustGetStream(t, t.Context(), srv, "")
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if want, got := "text/event-stream", resp.Header.Get("Content-Type"); want != got {
			t.Fatalf("unexpected content type: want %q got %q", want, got)
		}
		if want, got := "no-cache", resp.Header.Get("Cache-Control"); want != got {
			t.Fatalf("unexpected cache control: want %q got %q", want, got)
		}
		if want, got := "no", resp.Header.Get("X-Accel-Buffering"); want != got {
			t.Fatalf("unexpected X-Accel-Buffering: want %q got %q", want, got)
		}

		// Headers are only sent once the session is subscribed.
		if want, got := 1, b.Subscribers("sse"); want != got {
			t.Fatalf("unexpected subscribers: want %d got %d", want, got)
		}

		mustPublish(t, b, "sse", `{"data":"thing","type":"example"}`)
		mustPublish(t, b, "sse", `{"sse-control":"disconnect"}`)

		if want, got := "event:example\ndata:thing\n\n", mustReadAll(t, resp.Body); want != got {
			t.Fatalf("unexpected body: want %q got %q", want, got)
		}
		waitFor(t, "unsubscribe", func() bool { return b.Subscribers("sse") == 0 })
	})

	t.Run("disconnect only yields empty body", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		resp := mustGetStream(t, t.Context(), srv, "?channel=g1")
		mustPublish(t, b, "g1", `{"sse-control":"disconnect"}`)

		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if got := mustReadAll(t, resp.Body); got != "" {
			t.Fatalf("expected empty body, got %q", got)
		}
	})

	t.Run("multiline data and ids", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		resp := mustGetStream(t, t.Context(), srv, "?channel=g1")
		mustPublish(t, b, "g1", `{"data":"a\nb","id":"7","retry":3000}`)
		mustPublish(t, b, "g1", `{"data":{"roll":4}}`)
		mustPublish(t, b, "g1", `{"sse-control":"disconnect"}`)

		want := "data:a\ndata:b\nid:7\nretry:3000\n\n" + "data:{\"roll\":4}\n\n"
		if got := mustReadAll(t, resp.Body); want != got {
			t.Fatalf("unexpected body: want %q got %q", want, got)
		}
	})

	t.Run("channels are isolated", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		resp := mustGetStream(t, t.Context(), srv, "?channel=g1")
		mustPublish(t, b, "g2", `{"data":"other"}`)
		mustPublish(t, b, "g1", `{"data":"mine"}`)
		mustPublish(t, b, "g1", `{"sse-control":"disconnect"}`)

		if want, got := "data:mine\n\n", mustReadAll(t, resp.Body); want != got {
			t.Fatalf("unexpected body: want %q got %q", want, got)
		}
	})

	t.Run("health-check control writes a probe", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil, ssehttp.WithProbePayload("HC"))

		resp := mustGetStream(t, t.Context(), srv, "")
		mustPublish(t, b, "sse", `{"sse-control":"health-check"}`)
		mustPublish(t, b, "sse", `{"sse-control":"disconnect"}`)

		if want, got := ":HC\n", mustReadAll(t, resp.Body); want != got {
			t.Fatalf("unexpected body: want %q got %q", want, got)
		}
	})

	t.Run("idle stream gets probes", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil, ssehttp.WithProbe("HC"), ssehttp.WithTimeout(10*time.Millisecond))

		resp := mustGetStream(t, t.Context(), srv, "")
		br := bufio.NewReader(resp.Body)
		for i := 0; i < 3; i++ {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("read probe %d: %v", i, err)
			}
			if want, got := ":HC\n", line; want != got {
				t.Fatalf("unexpected probe: want %q got %q", want, got)
			}
		}
	})

	t.Run("client departure releases subscription", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		ctx, cancel := context.WithCancel(t.Context())
		resp := mustGetStream(t, ctx, srv, "?channel=g1")
		if want, got := 1, b.Subscribers("g1"); want != got {
			t.Fatalf("unexpected subscribers: want %d got %d", want, got)
		}
		cancel()
		resp.Body.Close()
		waitFor(t, "unsubscribe", func() bool { return b.Subscribers("g1") == 0 })
	})
}

func TestStreamRejections(t *testing.T) {
	t.Run("finished channel gets 204 without subscribing", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, lifecycle.NewKeyResolver(memorylifecycle.New(), "game:"))

		resp := mustGetStream(t, t.Context(), srv, "?channel=g1")
		if want, got := http.StatusNoContent, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if ct := resp.Header.Get("Content-Type"); ct == "text/event-stream" {
			t.Fatalf("finished channel must not advertise an event stream")
		}
		if got := mustReadAll(t, resp.Body); got != "" {
			t.Fatalf("expected empty body, got %q", got)
		}
		if want, got := 0, b.Subscribers("g1"); want != got {
			t.Fatalf("unexpected subscribers: want %d got %d", want, got)
		}
	})

	t.Run("not acceptable", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/stream", nil)
		req.Header.Set("Accept", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if want, got := http.StatusNotAcceptable, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
	})

	t.Run("config error is a generic 500", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil, ssehttp.WithTimeout(0))

		resp := mustGetStream(t, t.Context(), srv, "")
		if want, got := http.StatusInternalServerError, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		body := mustReadAll(t, resp.Body)
		if strings.Contains(body, "timeout") {
			t.Fatalf("error body leaks diagnostics: %q", body)
		}
		if want, got := 0, b.Subscribers("sse"); want != got {
			t.Fatalf("unexpected subscribers: want %d got %d", want, got)
		}
	})

	t.Run("bridge failure is 503", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)
		if err := b.Close(); err != nil {
			t.Fatalf("close bridge: %v", err)
		}

		resp := mustGetStream(t, t.Context(), srv, "")
		if want, got := http.StatusServiceUnavailable, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
	})
}

func TestFinishedGameEndToEnd(t *testing.T) {
	ctx := t.Context()
	b := memorybridge.New()
	store := memorylifecycle.New()
	if err := store.MarkLive(ctx, "g1", 0); err != nil {
		t.Fatalf("mark live: %v", err)
	}
	srv := mustServer(t, b, lifecycle.NewKeyResolver(store, ""), ssehttp.WithTimeout(20*time.Millisecond))

	resp := mustGetStream(t, ctx, srv, "?channel=g1")
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("unexpected status: want %d got %d", want, got)
	}

	mustPublish(t, b, "g1", `{"data":"roll:4"}`)
	br := bufio.NewReader(resp.Body)
	for _, want := range []string{"data:roll:4\n", "\n"} {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if want != line {
			t.Fatalf("unexpected line: want %q got %q", want, line)
		}
	}

	if err := store.MarkFinished(ctx, "g1"); err != nil {
		t.Fatalf("mark finished: %v", err)
	}
	if got := mustReadAll(t, br); got != "" {
		t.Fatalf("unexpected trailing output %q", got)
	}
	waitFor(t, "unsubscribe", func() bool { return b.Subscribers("g1") == 0 })

	// EventSource reconnects; the finished game turns it away.
	again := mustGetStream(t, ctx, srv, "?channel=g1")
	if want, got := http.StatusNoContent, again.StatusCode; want != got {
		t.Fatalf("unexpected status on reconnect: want %d got %d", want, got)
	}
}

func postJSON(t *testing.T, url, contentType, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPublishEndpoints(t *testing.T) {
	t.Run("publish and control reach streams", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil, ssehttp.WithPublishEndpoints())

		stream := mustGetStream(t, t.Context(), srv, "?channel=g1")

		resp, out := postJSON(t, srv.URL+"/stream/publish", "application/json", `{"channel":"g1","data":"thing","type":"example"}`)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if want, got := float64(1), out["delivered"]; want != got {
			t.Fatalf("unexpected delivered: want %v got %v", want, got)
		}

		resp, _ = postJSON(t, srv.URL+"/stream/control", "application/json", `{"channel":"g1","command":"disconnect"}`)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}

		if want, got := "event:example\ndata:thing\n\n", mustReadAll(t, stream.Body); want != got {
			t.Fatalf("unexpected body: want %q got %q", want, got)
		}
	})

	t.Run("default channel", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil, ssehttp.WithPublishEndpoints())

		stream := mustGetStream(t, t.Context(), srv, "")
		postJSON(t, srv.URL+"/stream/publish", "application/json", `{"data":"x"}`)
		postJSON(t, srv.URL+"/stream/control", "application/json", `{"command":"disconnect"}`)

		if want, got := "data:x\n\n", mustReadAll(t, stream.Body); want != got {
			t.Fatalf("unexpected body: want %q got %q", want, got)
		}
	})

	t.Run("bad requests", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil, ssehttp.WithPublishEndpoints())

		cases := []struct {
			path, contentType, body string
			want                    int
		}{
			{"/stream/publish", "text/plain", `{"data":"x"}`, http.StatusUnsupportedMediaType},
			{"/stream/publish", "application/json", `{"type":"x"}`, http.StatusBadRequest},
			{"/stream/publish", "application/json", `{"data":`, http.StatusBadRequest},
			{"/stream/control", "application/json", `{"channel":"g1"}`, http.StatusBadRequest},
		}
		for _, tc := range cases {
			resp, _ := postJSON(t, srv.URL+tc.path, tc.contentType, tc.body)
			if want, got := tc.want, resp.StatusCode; want != got {
				t.Fatalf("%s %s: unexpected status: want %d got %d", tc.path, tc.body, want, got)
			}
		}
	})

	t.Run("not mounted by default", func(t *testing.T) {
		b := memorybridge.New()
		srv := mustServer(t, b, nil)

		resp, _ := postJSON(t, srv.URL+"/stream/publish", "application/json", `{"data":"x"}`)
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("publish endpoint should not be mounted")
		}
	})
}
