// Package ratelimit gates outbound sends with one global sliding window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Store holds the timestamps of admitted sends.
type Store interface {
	// CountSince counts timestamps strictly after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
	Record(ctx context.Context, at time.Time) error
	// Prune deletes timestamps at or before before.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Limiter struct {
	store   Store
	ceiling int
	window  time.Duration
	now     func() time.Time

	mu sync.Mutex
}

func New(store Store, ceiling int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if ceiling < 1 {
		return nil, fmt.Errorf("ratelimit: ceiling must be positive, got %d", ceiling)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	return &Limiter{
		store:   store,
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
	}, nil
}

// Admit reports whether one more send fits in the trailing window and, if
// so, records it. Check and record happen under one lock.
func (l *Limiter) Admit(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n, err := l.store.CountSince(ctx, now.Add(-l.window))
	if err != nil {
		return false, err
	}
	if n >= l.ceiling {
		return false, nil
	}
	if err := l.store.Record(ctx, now); err != nil {
		return false, err
	}
	return true, nil
}

// Prune drops timestamps that have left the window.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Prune(ctx, l.now().Add(-l.window))
}

func (l *Limiter) Ceiling() int          { return l.ceiling }
func (l *Limiter) Window() time.Duration { return l.window }
