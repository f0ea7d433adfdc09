// Package sender delivers message content over a single channel.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

// ErrUnavailable means the channel is temporarily refusing sends and nothing
// was attempted. Callers may retry later.
var ErrUnavailable = errors.New("channel unavailable")

type Content struct {
	Subject    string
	Body       string
	SenderName string
	From       string
}

type Sender interface {
	Send(ctx context.Context, address string, channel models.Channel, c Content) error
}

type SenderFunc func(ctx context.Context, address string, channel models.Channel, c Content) error

func (f SenderFunc) Send(ctx context.Context, address string, channel models.Channel, c Content) error {
	return f(ctx, address, channel, c)
}

// Failure is a terminal send failure for one address.
type Failure struct {
	Channel models.Channel
	Address string
	Reason  string
	Err     error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s send to %s failed", f.Channel, f.Address)
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Registry routes a send to the sender registered for its channel.
type Registry struct {
	mu      sync.RWMutex
	senders map[models.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[models.Channel]Sender)}
}

func (r *Registry) Register(channel models.Channel, s Sender) {
	r.mu.Lock()
	r.senders[channel] = s
	r.mu.Unlock()
}

func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Channel
	for _, ch := range models.Channels {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// States reports the circuit breaker state of each channel that has one.
func (r *Registry) States() map[models.Channel]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.Channel]string)
	for ch, s := range r.senders {
		if b, ok := s.(*Breaker); ok {
			out[ch] = b.State().String()
		}
	}
	return out
}

func (r *Registry) Send(ctx context.Context, address string, channel models.Channel, c Content) error {
	r.mu.RLock()
	s, ok := r.senders[channel]
	r.mu.RUnlock()
	if !ok {
		return &Failure{Channel: channel, Address: address, Reason: "no sender configured"}
	}
	return s.Send(ctx, address, channel, c)
}
