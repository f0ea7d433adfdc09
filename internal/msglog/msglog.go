// Package msglog records one row per logical inbound or outbound message.
package msglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/mr1hm/go-cap-alerts/internal/models"
	"github.com/mr1hm/go-cap-alerts/internal/repository"
)

const (
	displayMax   = 80
	displayCut   = 76
	displayTrail = "..."
)

var ErrEmptyMessage = errors.New("message needs a subject or body")

// Content is the caller-supplied part of a MessageLog.
type Content struct {
	AlertID           string
	SenderDisplayName string
	FromAddress       string
	RecipientRaw      string
	Subject           string
	Body              string
	Priority          models.Priority
	Actionable        bool
}

type Recorder struct {
	repo repository.MessageRepository
}

func NewRecorder(repo repository.MessageRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record writes exactly one MessageLog row and returns its id.
func (r *Recorder) Record(ctx context.Context, direction models.Direction, c Content) (string, error) {
	if direction != models.DirectionInbound && direction != models.DirectionOutbound {
		return "", fmt.Errorf("invalid direction %q", direction)
	}
	if c.Subject == "" && c.Body == "" {
		return "", ErrEmptyMessage
	}
	if c.Priority == 0 {
		c.Priority = models.PriorityLow
	}
	if !c.Priority.Valid() {
		return "", fmt.Errorf("invalid priority %d", c.Priority)
	}

	m := &models.MessageLog{
		AlertID:           c.AlertID,
		Direction:         direction,
		SenderDisplayName: c.SenderDisplayName,
		FromAddress:       c.FromAddress,
		RecipientRaw:      c.RecipientRaw,
		Subject:           c.Subject,
		Body:              c.Body,
		Priority:          c.Priority,
		Actionable:        c.Actionable,
	}
	if err := r.repo.AddMessage(ctx, m); err != nil {
		return "", err
	}
	slog.Debug("message recorded", "message_id", m.ID, "direction", direction)
	return m.ID, nil
}

func (r *Recorder) Get(ctx context.Context, id string) (*models.MessageLog, error) {
	return r.repo.GetMessage(ctx, id)
}

func (r *Recorder) List(ctx context.Context, opts repository.Filter) ([]models.MessageLog, error) {
	return r.repo.ListMessages(ctx, opts)
}

func (r *Recorder) MarkParsed(ctx context.Context, id string) error {
	return r.repo.MarkParsed(ctx, id)
}

func (r *Recorder) MarkVerified(ctx context.Context, id, comment string) error {
	return r.repo.MarkVerified(ctx, id, comment)
}

func (r *Recorder) MarkActioned(ctx context.Context, id, comment string) error {
	return r.repo.MarkActioned(ctx, id, comment)
}

func (r *Recorder) SetReply(ctx context.Context, id, reply string) error {
	return r.repo.SetReply(ctx, id, reply)
}

// Display returns the short form of a message: its subject, else the body,
// truncated when longer than 80 characters.
func Display(m *models.MessageLog) string {
	if m.Subject != "" {
		return m.Subject
	}
	if utf8.RuneCountInString(m.Body) <= displayMax {
		return m.Body
	}
	runes := []rune(m.Body)
	return string(runes[:displayCut]) + displayTrail
}
