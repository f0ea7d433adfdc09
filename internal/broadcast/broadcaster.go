// Package broadcast fans outbox events out to live subscribers.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

const subscriberBuffer = 256

type Broadcaster struct {
	subscribers map[uint64]chan models.OutboxEvent
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan models.OutboxEvent),
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan models.OutboxEvent) {
	id := b.nextID.Add(1)
	ch := make(chan models.OutboxEvent, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish never blocks; events for a subscriber whose buffer is full are
// dropped.
func (b *Broadcaster) Publish(e models.OutboxEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, ending their streams.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
