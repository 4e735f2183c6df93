// Package memory provides a key/value store for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmagar/pulse-sub012/internal/scrape"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is an in-memory scrape.KV with per-key expiry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   scrape.Clock
}

// NewStore constructs a Store using clock for expiry decisions.
func NewStore(clock scrape.Clock) *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Set stores the value. A non-positive ttl means no expiry.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Get returns the value and whether the key is live.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if s.expired(e) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Exists reports whether the key is live.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt)
}
