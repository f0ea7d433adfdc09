package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps timestamps in process. State is lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	times []time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.times {
		if t.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Record(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	m.times = append(m.times, at)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.times[:0]
	for _, t := range m.times {
		if t.After(before) {
			kept = append(kept, t)
		}
	}
	pruned := int64(len(m.times) - len(kept))
	m.times = kept
	return pruned, nil
}
