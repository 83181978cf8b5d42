package memorybridge

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge/bridge"
	"github.com/ggoodman/ssebridge/bridge/bridgetest"
)

func TestMemoryBridge(t *testing.T) {
	bridgetest.RunBridgeTests(t, func(t *testing.T) bridge.Bridge {
		return New()
	})
}

func TestCloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub, err := b.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if want, got := 1, b.Subscribers("g1"); want != got {
		t.Fatalf("unexpected subscriber count: want %d got %d", want, got)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	frame, err := sub.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if want, got := bridge.FrameClosed, frame.Kind; want != got {
		t.Fatalf("unexpected frame kind: want %s got %s", want, got)
	}
	if _, err := b.Subscribe(ctx, "g1"); err != bridge.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := b.Publish(ctx, "g1", []byte("x")); err != bridge.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestUnsubscribeDetachesChannel(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub, err := b.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = sub.Unsubscribe(ctx)
	if want, got := 0, b.Subscribers("g1"); want != got {
		t.Fatalf("unexpected subscriber count: want %d got %d", want, got)
	}
}

func TestQueuedMessagesDroppedOnUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b := New()

	sub, err := b.Subscribe(ctx, "g1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := b.Publish(ctx, "g1", []byte("queued")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = sub.Unsubscribe(ctx)

	frame, err := sub.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if want, got := bridge.FrameClosed, frame.Kind; want != got {
		t.Fatalf("unexpected frame kind: want %s got %s", want, got)
	}
}
