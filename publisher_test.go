package ssebridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge"
	"github.com/ggoodman/ssebridge/bridge"
	"github.com/ggoodman/ssebridge/bridge/memorybridge"
	"github.com/ggoodman/ssebridge/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub bridge.Subscription) string {
	t.Helper()
	frame, err := sub.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, bridge.FrameMessage, frame.Kind)
	return string(frame.Payload)
}

func TestPublisherEnvelopes(t *testing.T) {
	ctx := context.Background()
	b := memorybridge.New()
	sub, err := b.Subscribe(ctx, "sse")
	require.NoError(t, err)
	defer sub.Unsubscribe(ctx)

	p := ssebridge.NewPublisher(b)

	n, err := p.Publish(ctx, "", sse.Message{Data: "thing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.JSONEq(t, `{"data":"thing"}`, receive(t, sub))

	_, err = p.Publish(ctx, "sse", sse.Message{Data: "thing", Type: "example"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"thing","type":"example"}`, receive(t, sub))

	_, err = p.Publish(ctx, "", sse.Message{Data: map[string]int{"roll": 4}, ID: "7", Retry: 3000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"roll":4},"id":"7","retry":3000}`, receive(t, sub))

	_, err = p.SendControl(ctx, "", "command")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sse-control":"command"}`, receive(t, sub))

	_, err = p.Disconnect(ctx, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sse-control":"disconnect"}`, receive(t, sub))

	_, err = p.HealthCheck(ctx, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sse-control":"health-check"}`, receive(t, sub))
}

func TestPublisherRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	p := ssebridge.NewPublisher(memorybridge.New())

	_, err := p.Publish(ctx, "g1", sse.Message{})
	require.ErrorIs(t, err, sse.ErrMissingData)

	_, err = p.SendControl(ctx, "g1", "")
	require.Error(t, err)
}

func TestPublisherCountsOnlyMatchingChannel(t *testing.T) {
	ctx := context.Background()
	b := memorybridge.New()
	for _, ch := range []string{"g1", "g1", "g2"} {
		sub, err := b.Subscribe(ctx, ch)
		require.NoError(t, err)
		defer sub.Unsubscribe(ctx)
	}

	n, err := ssebridge.NewPublisher(b).Publish(ctx, "g1", sse.Message{Data: "roll:4"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPublisherSurfacesBridgeErrors(t *testing.T) {
	b := memorybridge.New()
	require.NoError(t, b.Close())

	_, err := ssebridge.NewPublisher(b).Publish(context.Background(), "g1", sse.Message{Data: "x"})
	require.ErrorIs(t, err, bridge.ErrClosed)
}
