// Package dispatch fans one logged message out to its recipients through
// the outbox.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/recipient"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
	"github.com/mr1hm/go-cap-alerts/internal/sender"
	"github.com/mr1hm/go-cap-alerts/internal/worker"
)

var (
	// ErrRateLimited is logged against entries the limiter deferred. It is
	// not a failure; the entry stays Unsent.
	ErrRateLimited = errors.New("deferred: rate limit")
	ErrNotUnsent   = errors.New("outbox entry is not unsent")
)

const logCancelled = "cancelled"

type Admitter interface {
	Admit(ctx context.Context) (bool, error)
}

type Publisher interface {
	Publish(e models.OutboxEvent)
}

type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type Fanout struct {
	outbox   repository.OutboxRepository
	messages repository.MessageRepository
	limiter  Admitter
	sender   sender.Sender
	events   Publisher
	pool     *worker.Pool[*sendJob]
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewFanout(
	outbox repository.OutboxRepository,
	messages repository.MessageRepository,
	limiter Admitter,
	snd sender.Sender,
	events Publisher,
	cfg Config,
) *Fanout {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	f := &Fanout{
		outbox:   outbox,
		messages: messages,
		limiter:  limiter,
		sender:   snd,
		events:   events,
		timeout:  cfg.SendTimeout,
		inflight: make(map[string]struct{}),
	}
	f.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, f.process)
	return f
}

func (f *Fanout) Start(ctx context.Context) {
	f.pool.Start(ctx)
}

// Stop waits for queued sends to finish.
func (f *Fanout) Stop() {
	f.pool.Stop()
}

// Report summarises one Dispatch or Retry call. Counts holds the status
// each driven entry ended in; entries skipped because another caller
// already moved them are listed in Skipped only.
type Report struct {
	MessageID string                      `json:"messageId,omitempty"`
	Counts    map[models.OutboxStatus]int `json:"counts"`
	EntryIDs  []string                    `json:"entryIds"`
	Deferred  []string                    `json:"deferred,omitempty"`
	Skipped   []string                    `json:"skipped,omitempty"`
}

func newReport(messageID string) *Report {
	return &Report{
		MessageID: messageID,
		Counts:    make(map[models.OutboxStatus]int),
	}
}

type options struct {
	systemGenerated bool
}

type Option func(*options)

// SystemGenerated marks the created entries as produced by the service
// itself rather than an operator.
func SystemGenerated() Option {
	return func(o *options) { o.systemGenerated = true }
}

// Dispatch creates one Unsent outbox entry per delivery, in order, then
// drives each through the limiter and its channel sender. Send failures end
// in Invalid and do not fail the call; only persistence errors are returned.
func (f *Fanout) Dispatch(ctx context.Context, messageID string, deliveries []recipient.Delivery, opts ...Option) (*Report, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	msg, err := f.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("error loading message %s: %w", messageID, err)
	}

	entries := make([]*models.OutboxEntry, 0, len(deliveries))
	for _, d := range deliveries {
		entries = append(entries, &models.OutboxEntry{
			MessageID:       messageID,
			RecipientID:     d.RecipientID,
			Channel:         d.Channel,
			Address:         d.Address,
			Status:          models.StatusUnsent,
			SystemGenerated: o.systemGenerated,
		})
	}
	if err := f.outbox.AddOutboxEntries(ctx, entries); err != nil {
		return nil, err
	}

	report := newReport(messageID)
	contents := map[string]sender.Content{messageID: contentOf(msg)}
	err = f.drive(ctx, entries, contents, report)

	slog.Info("dispatch finished",
		"message_id", messageID,
		"entries", len(entries),
		"sent", report.Counts[models.StatusSent],
		"invalid", report.Counts[models.StatusInvalid],
		"unsent", report.Counts[models.StatusUnsent])
	return report, err
}

// Retry drives existing outbox entries again. Entries that are no longer
// Unsent, or are already being sent, are skipped.
func (f *Fanout) Retry(ctx context.Context, entryIDs []string) (*Report, error) {
	report := newReport("")
	contents := make(map[string]sender.Content)

	var entries []*models.OutboxEntry
	for _, id := range entryIDs {
		e, err := f.outbox.GetOutboxEntry(ctx, id)
		if err != nil {
			return report, err
		}
		if e.Status != models.StatusUnsent {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		if _, ok := contents[e.MessageID]; !ok {
			msg, err := f.messages.GetMessage(ctx, e.MessageID)
			if err != nil {
				return report, fmt.Errorf("error loading message %s: %w", e.MessageID, err)
			}
			contents[e.MessageID] = contentOf(msg)
		}
		entries = append(entries, e)
	}

	err := f.drive(ctx, entries, contents, report)
	return report, err
}

// RetryUnsent retries up to limit Unsent entries not touched for at least
// minAge.
func (f *Fanout) RetryUnsent(ctx context.Context, minAge time.Duration, limit int) (*Report, error) {
	status := models.StatusUnsent
	before := time.Now().Add(-minAge)
	pending, err := f.outbox.ListOutbox(ctx, repository.Filter{
		Status:        &status,
		UpdatedBefore: &before,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, e := range pending {
		ids = append(ids, e.ID)
	}
	return f.Retry(ctx, ids)
}

// SetDraft excludes an Unsent entry from sending.
func (f *Fanout) SetDraft(ctx context.Context, entryID string) error {
	if !f.claim(entryID) {
		return fmt.Errorf("%w: send in progress", ErrNotUnsent)
	}
	defer f.release(entryID)

	err := f.outbox.CompareAndSetStatus(ctx, entryID, models.StatusUnsent, models.StatusDraft, "draft: excluded from sending")
	if errors.Is(err, repository.ErrDuplicateDispatch) {
		return ErrNotUnsent
	}
	if err != nil {
		return err
	}
	if e, err := f.outbox.GetOutboxEntry(ctx, entryID); err == nil {
		f.publish(e, models.StatusDraft, "")
	}
	return nil
}

func contentOf(m *models.MessageLog) sender.Content {
	return sender.Content{
		Subject:    m.Subject,
		Body:       m.Body,
		SenderName: m.SenderDisplayName,
		From:       m.FromAddress,
	}
}

func (f *Fanout) claim(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inflight[id]; busy {
		return false
	}
	f.inflight[id] = struct{}{}
	return true
}

func (f *Fanout) release(id string) {
	f.mu.Lock()
	delete(f.inflight, id)
	f.mu.Unlock()
}

func (f *Fanout) publish(e *models.OutboxEntry, status models.OutboxStatus, detail string) {
	if f.events == nil {
		return
	}
	f.events.Publish(models.OutboxEvent{
		EntryID:   e.ID,
		MessageID: e.MessageID,
		Channel:   e.Channel,
		Address:   e.Address,
		Status:    status,
		Detail:    detail,
		At:        time.Now().UTC(),
	})
}
