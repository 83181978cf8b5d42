// Package fslifecycle stores channel finish markers as files in a single
// directory. A channel is live while its marker file exists.
//
// Watch keeps an in-memory index of the directory up to date using
// fsnotify so that per-iteration finish checks do not touch the disk. Until
// Watch succeeds, or after the watcher fails, lookups fall back to os.Stat.
package fslifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/ssebridge/lifecycle"
)

// ErrInvalidKey is returned for keys that cannot name a file in the marker
// directory.
var ErrInvalidKey = errors.New("fslifecycle: invalid marker key")

// Store is a lifecycle.MarkerStore over marker files.
type Store struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	index    map[string]struct{}
	watching atomic.Bool
}

var _ lifecycle.MarkerStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve marker dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create marker dir: %w", err)
	}
	s := &Store{dir: abs, log: slog.Default(), index: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the marker directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if s.watching.Load() {
		s.mu.RLock()
		_, ok := s.index[key]
		s.mu.RUnlock()
		return ok, nil
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// MarkLive creates the marker file. Expiry is not supported; ttl is ignored.
func (s *Store) MarkLive(ctx context.Context, key string, _ time.Duration) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.mu.Lock()
	s.index[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
	return nil
}

// Watch starts maintaining the in-memory index until ctx ends. It returns
// once the initial snapshot is loaded. On error the store keeps serving
// lookups from the filesystem directly.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify unavailable: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch marker dir: %w", err)
	}

	// Snapshot after the watch is in place so no create is missed.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("read marker dir: %w", err)
	}
	s.mu.Lock()
	s.index = make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			s.index[e.Name()] = struct{}{}
		}
	}
	s.mu.Unlock()
	s.watching.Store(true)

	go s.run(ctx, w)
	return nil
}

func (s *Store) run(ctx context.Context, w *fsnotify.Watcher) {
	defer func() {
		s.watching.Store(false)
		_ = w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Dir(ev.Name) != s.dir {
				continue
			}
			name := filepath.Base(ev.Name)
			if ev.Op&fsnotify.Create == fsnotify.Create {
				fi, err := os.Stat(ev.Name)
				if err == nil && !fi.IsDir() {
					s.mu.Lock()
					s.index[name] = struct{}{}
					s.mu.Unlock()
				}
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.mu.Lock()
				delete(s.index, name)
				s.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("fslifecycle.watch.fail", slog.String("dir", s.dir), slog.String("err", err.Error()))
			// The index may have missed events; serve from disk from now on.
			return
		}
	}
}
