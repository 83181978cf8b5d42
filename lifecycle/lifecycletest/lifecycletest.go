// Package lifecycletest provides a conformance suite for lifecycle.MarkerStore
// implementations used behind a lifecycle.KeyResolver.
package lifecycletest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/google/uuid"
)

// StoreFactory creates a new MarkerStore instance for testing.
type StoreFactory func(t *testing.T) lifecycle.MarkerStore

// RunStoreTests runs the complete MarkerStore test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("MissingKeyIsFinished", func(t *testing.T) { testMissingKeyIsFinished(t, factory) })
	t.Run("LiveKeyIsNotFinished", func(t *testing.T) { testLiveKeyIsNotFinished(t, factory) })
	t.Run("FinishTransitions", func(t *testing.T) { testFinishTransitions(t, factory) })
	t.Run("PrefixIsolation", func(t *testing.T) { testPrefixIsolation(t, factory) })
	t.Run("FinishMissingKeyIsNoop", func(t *testing.T) { testFinishMissingKey(t, factory) })
}

func channelName() string { return "lifecycletest-" + uuid.NewString() }

func mustStatus(t *testing.T, r lifecycle.Resolver, channel string, want lifecycle.Status) {
	t.Helper()
	// Stores fed by asynchronous watchers may lag slightly behind writes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := r.IsFinished(context.Background(), channel)
		if err != nil {
			t.Fatalf("is finished %s: %v", channel, err)
		}
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected status for %s: want %s got %s", channel, want, got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testMissingKeyIsFinished(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := lifecycle.NewKeyResolver(s, "")
	if !r.Tracks("anything") {
		t.Fatalf("key resolver should track every channel")
	}
	mustStatus(t, r, channelName(), lifecycle.StatusFinished)
}

func testLiveKeyIsNotFinished(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := lifecycle.NewKeyResolver(s, "game-")
	m := lifecycle.NewMarkers(s, "game-")
	ch := channelName()

	if err := m.Start(context.Background(), ch, time.Minute); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustStatus(t, r, ch, lifecycle.StatusNotFinished)
}

func testFinishTransitions(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := lifecycle.NewKeyResolver(s, "")
	m := lifecycle.NewMarkers(s, "")
	ch := channelName()
	ctx := context.Background()

	if err := m.Start(ctx, ch, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustStatus(t, r, ch, lifecycle.StatusNotFinished)

	if err := m.Finish(ctx, ch); err != nil {
		t.Fatalf("finish: %v", err)
	}
	mustStatus(t, r, ch, lifecycle.StatusFinished)
}

func testPrefixIsolation(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ch := channelName()

	if err := lifecycle.NewMarkers(s, "a-").Start(context.Background(), ch, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustStatus(t, lifecycle.NewKeyResolver(s, "a-"), ch, lifecycle.StatusNotFinished)
	mustStatus(t, lifecycle.NewKeyResolver(s, "b-"), ch, lifecycle.StatusFinished)
}

func testFinishMissingKey(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if err := lifecycle.NewMarkers(s, "").Finish(context.Background(), channelName()); err != nil {
		t.Fatalf("finish of missing key: %v", err)
	}
}
