// Package ratelimit implements a fixed-window request counter keyed by
// client identifier. Counters live behind a Store so a single instance can
// keep them in memory while a fleet shares them through the database.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garnizeh/mar/pkg/repository"
)

// Store increments the counter for key and reports the hits seen in the
// current window together with the window start.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error)
}

type entry struct {
	start time.Time
	count int
}

// MemoryStore keeps counters in process. Expired windows are swept lazily.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (s *MemoryStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= window {
		for k, e := range s.entries {
			if !now.Before(e.start.Add(window)) {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.entries[key]
	if !ok || !now.Before(e.start.Add(window)) {
		e = &entry{start: now}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.start, nil
}

// Len reports how many keys are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SQLStore shares counters through the rate_limits table.
type SQLStore struct {
	repo repository.RateLimitRepo
}

func NewSQLStore(repo repository.RateLimitRepo) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	return s.repo.HitRateLimit(ctx, key, window, now)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New returns a limiter admitting limit hits per key per window.
func New(store Store, limit int, window time.Duration, logger *slog.Logger) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("ratelimit: limit and window must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, limit: limit, window: window, now: time.Now, logger: logger}, nil
}

// Allow records a hit for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	count, start, err := l.store.Hit(ctx, key, l.window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit hit: %w", err)
	}

	d := Decision{Allowed: count <= l.limit, Limit: l.limit, Remaining: l.limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = start.Add(l.window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}
