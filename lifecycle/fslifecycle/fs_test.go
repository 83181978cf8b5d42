package fslifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/ssebridge/lifecycle"
	"github.com/ggoodman/ssebridge/lifecycle/lifecycletest"
)

func TestFSStore_Stat(t *testing.T) {
	lifecycletest.RunStoreTests(t, func(t *testing.T) lifecycle.MarkerStore {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		return s
	})
}

func TestFSStore_Watched(t *testing.T) {
	lifecycletest.RunStoreTests(t, func(t *testing.T) lifecycle.MarkerStore {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		if err := s.Watch(ctx); err != nil {
			t.Skipf("fsnotify unavailable: %v", err)
		}
		return s
	})
}

func TestWatchObservesExternalWrites(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing"), nil, 0o644); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}

	if ok, _ := s.Exists(ctx, "existing"); !ok {
		t.Fatalf("initial snapshot missed existing marker")
	}

	if err := os.WriteFile(filepath.Join(dir, "g1"), nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	waitFor(t, func() bool { ok, _ := s.Exists(ctx, "g1"); return ok })

	if err := os.Remove(filepath.Join(dir, "g1")); err != nil {
		t.Fatalf("remove marker: %v", err)
	}
	waitFor(t, func() bool { ok, _ := s.Exists(ctx, "g1"); return !ok })
}

func TestRejectsPathKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if _, err := s.Exists(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
