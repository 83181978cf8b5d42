// Package memorylifecycle is an in-memory lifecycle.MarkerStore for tests
// and single-process deployments.
package memorylifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/ssebridge/lifecycle"
)

// Store keeps live keys in memory with optional expiry.
type Store struct {
	mu   sync.RWMutex
	keys map[string]time.Time // zero time means no expiry
	err  error
	now  func() time.Time
}

var _ lifecycle.MarkerStore = (*Store)(nil)

func New() *Store {
	return &Store{keys: make(map[string]time.Time), now: time.Now}
}

// SetErr makes every subsequent call fail with err until reset with nil.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return false, s.err
	}
	exp, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	return exp.IsZero() || s.now().Before(exp), nil
}

func (s *Store) MarkLive(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.keys[key] = exp
	return nil
}

func (s *Store) MarkFinished(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.keys, key)
	return nil
}
