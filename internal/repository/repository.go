package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateDispatch is returned when an outbox entry already left the
	// expected status; another worker got there first.
	ErrDuplicateDispatch = errors.New("outbox entry already transitioned")
	ErrDuplicateAlert    = errors.New("alert with this sender and identifier already stored")
)

type Filter struct {
	Limit     int
	Offset    int
	Since     *time.Time
	MessageID string
	Status    *models.OutboxStatus
	Direction *models.Direction
	Sender    string
	// UpdatedBefore limits outbox queries to entries untouched since then.
	UpdatedBefore *time.Time
}

type StoredAlert struct {
	ID        string
	Direction models.Direction
	Alert     *cap.Alert
	CreatedAt time.Time
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *cap.Alert, direction models.Direction) (string, error)
	GetAlert(ctx context.Context, id string) (*StoredAlert, error)
	AlertExists(ctx context.Context, sender, identifier string) (bool, error)
	ListAlerts(ctx context.Context, opts Filter) ([]StoredAlert, error)
}

type MessageRepository interface {
	AddMessage(ctx context.Context, m *models.MessageLog) error
	GetMessage(ctx context.Context, id string) (*models.MessageLog, error)
	ListMessages(ctx context.Context, opts Filter) ([]models.MessageLog, error)
	MarkParsed(ctx context.Context, id string) error
	MarkVerified(ctx context.Context, id, comment string) error
	MarkActioned(ctx context.Context, id, comment string) error
	SetReply(ctx context.Context, id, reply string) error
}

type OutboxRepository interface {
	AddOutboxEntries(ctx context.Context, entries []*models.OutboxEntry) error
	GetOutboxEntry(ctx context.Context, id string) (*models.OutboxEntry, error)
	ListOutbox(ctx context.Context, opts Filter) ([]models.OutboxEntry, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to models.OutboxStatus, logLine string) error
	AppendLog(ctx context.Context, id, logLine string) error
}
