// Package bridgetest provides a conformance suite for bridge.Bridge
// implementations.
package bridgetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge/bridge"
	"github.com/google/uuid"
)

// BridgeFactory creates a new Bridge instance for testing.
type BridgeFactory func(t *testing.T) bridge.Bridge

// RunBridgeTests runs the complete Bridge test suite against the provided factory.
func RunBridgeTests(t *testing.T, factory BridgeFactory) {
	t.Run("PublishAndReceive", func(t *testing.T) { testPublishAndReceive(t, factory) })
	t.Run("ReceiveTimesOut", func(t *testing.T) { testReceiveTimesOut(t, factory) })
	t.Run("OrderedDelivery", func(t *testing.T) { testOrderedDelivery(t, factory) })
	t.Run("FanOutToAllSubscriptions", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("IsolationBetweenChannels", func(t *testing.T) { testChannelIsolation(t, factory) })
	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) { testUnsubscribeStopsDelivery(t, factory) })
	t.Run("UnsubscribeIsIdempotent", func(t *testing.T) { testUnsubscribeIdempotent(t, factory) })
	t.Run("BlockingReceiveHonorsCancellation", func(t *testing.T) { testBlockingReceiveCancellation(t, factory) })
}

func channelName(prefix string) string {
	return fmt.Sprintf("bridgetest:%s:%s", prefix, uuid.NewString())
}

func mustSubscribe(t *testing.T, ctx context.Context, b bridge.Bridge, channel string) bridge.Subscription {
	t.Helper()
	sub, err := b.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("subscribe %s: %v", channel, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe(context.Background()) })
	return sub
}

func mustReceiveMessage(t *testing.T, ctx context.Context, sub bridge.Subscription) []byte {
	t.Helper()
	frame, err := sub.Receive(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if want, got := bridge.FrameMessage, frame.Kind; want != got {
		t.Fatalf("unexpected frame kind: want %s got %s", want, got)
	}
	if want, got := sub.Channel(), frame.Channel; want != got {
		t.Fatalf("unexpected frame channel: want %q got %q", want, got)
	}
	return frame.Payload
}

func testPublishAndReceive(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := channelName("publish")
	sub := mustSubscribe(t, ctx, b, channel)

	n, err := b.Publish(ctx, channel, []byte(`{"data":"thing"}`))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if want, got := int64(1), n; want != got {
		t.Fatalf("unexpected delivery count: want %d got %d", want, got)
	}

	if want, got := `{"data":"thing"}`, string(mustReceiveMessage(t, ctx, sub)); want != got {
		t.Fatalf("unexpected payload: want %s got %s", want, got)
	}
}

func testReceiveTimesOut(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := mustSubscribe(t, ctx, b, channelName("timeout"))

	start := time.Now()
	frame, err := sub.Receive(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if want, got := bridge.FrameTimeout, frame.Kind; want != got {
		t.Fatalf("unexpected frame kind: want %s got %s", want, got)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("receive returned too early: %s", elapsed)
	}
}

func testOrderedDelivery(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := channelName("ordered")
	sub := mustSubscribe(t, ctx, b, channel)

	const count = 20
	for i := 0; i < count; i++ {
		if _, err := b.Publish(ctx, channel, []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < count; i++ {
		if want, got := fmt.Sprintf("m%d", i), string(mustReceiveMessage(t, ctx, sub)); want != got {
			t.Fatalf("out of order delivery: want %s got %s", want, got)
		}
	}
}

func testFanOut(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := channelName("fanout")
	sub1 := mustSubscribe(t, ctx, b, channel)
	sub2 := mustSubscribe(t, ctx, b, channel)

	n, err := b.Publish(ctx, channel, []byte("hello"))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if want, got := int64(2), n; want != got {
		t.Fatalf("unexpected delivery count: want %d got %d", want, got)
	}
	for i, sub := range []bridge.Subscription{sub1, sub2} {
		if want, got := "hello", string(mustReceiveMessage(t, ctx, sub)); want != got {
			t.Fatalf("subscriber %d: want %s got %s", i, want, got)
		}
	}
}

func testChannelIsolation(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch1, ch2 := channelName("iso1"), channelName("iso2")
	sub1 := mustSubscribe(t, ctx, b, ch1)
	sub2 := mustSubscribe(t, ctx, b, ch2)

	if _, err := b.Publish(ctx, ch1, []byte("one")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if want, got := "one", string(mustReceiveMessage(t, ctx, sub1)); want != got {
		t.Fatalf("want %s got %s", want, got)
	}

	frame, err := sub2.Receive(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if want, got := bridge.FrameTimeout, frame.Kind; want != got {
		t.Fatalf("message leaked across channels: frame kind %s", got)
	}
}

func testUnsubscribeStopsDelivery(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := channelName("unsub")
	sub, err := b.Subscribe(ctx, channel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Give networked brokers a moment to process the unsubscribe.
	time.Sleep(50 * time.Millisecond)

	n, err := b.Publish(ctx, channel, []byte("late"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if want, got := int64(0), n; want != got {
		t.Fatalf("unexpected delivery count after unsubscribe: want %d got %d", want, got)
	}

	frame, err := sub.Receive(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("receive after unsubscribe: %v", err)
	}
	if want, got := bridge.FrameClosed, frame.Kind; want != got {
		t.Fatalf("unexpected frame kind after unsubscribe: want %s got %s", want, got)
	}
}

func testUnsubscribeIdempotent(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, channelName("idem"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("first unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func testBlockingReceiveCancellation(t *testing.T, factory BridgeFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := mustSubscribe(t, ctx, b, channelName("cancel"))

	done := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx, 0)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("blocking receive did not observe cancellation")
	}
}
