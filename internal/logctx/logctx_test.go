package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "test"))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "GET", Path: "/stream"})
	ctx = WithStreamData(ctx, &StreamData{Channel: "g1", SessionID: "s1", State: staticState("active")})
	log.InfoContext(ctx, "session.open.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v\n%s", err, buf.String())
	}
	req, _ := rec["req"].(map[string]any)
	if want, got := "r1", req["id"]; want != got {
		t.Fatalf("unexpected req.id: want %v got %v", want, got)
	}
	stream, _ := rec["stream"].(map[string]any)
	if want, got := "g1", stream["channel"]; want != got {
		t.Fatalf("unexpected stream.channel: want %v got %v", want, got)
	}
	if want, got := "test", rec["component"]; want != got {
		t.Fatalf("handler lost attrs from With: want %v got %v", want, got)
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.Info("plain")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if _, ok := rec["req"]; ok {
		t.Fatalf("unexpected req group without request data")
	}
}

type staticState string

func (s staticState) String() string { return string(s) }
