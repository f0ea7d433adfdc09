package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

const outboxColumns = `id, message_id, recipient_id, channel, address, status, system_generated, log, created_at, updated_at`

// AddOutboxEntries inserts all entries in one transaction, in order.
func (s *SQLiteDB) AddOutboxEntries(ctx context.Context, entries []*models.OutboxEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting outbox transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO msg_outbox (`+outboxColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing outbox insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Status == "" {
			e.Status = models.StatusUnsent
		}
		if e.CreatedAt.IsZero() {
			// Keep creation order stable for entries added in the same call.
			e.CreatedAt = now.Add(time.Duration(i))
		}
		e.UpdatedAt = e.CreatedAt
		_, err := stmt.ExecContext(ctx, e.ID, e.MessageID, e.RecipientID, string(e.Channel), e.Address,
			string(e.Status), e.SystemGenerated, e.Log, toUnix(e.CreatedAt), toUnix(e.UpdatedAt))
		if err != nil {
			return fmt.Errorf("error adding outbox entry for %s: %w", e.Address, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteDB) GetOutboxEntry(ctx context.Context, id string) (*models.OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM msg_outbox WHERE id = ?`, id)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting outbox entry %s: %w", id, err)
	}
	return e, nil
}

// ListOutbox returns entries oldest first.
func (s *SQLiteDB) ListOutbox(ctx context.Context, opts Filter) ([]models.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM msg_outbox WHERE 1=1`
	var args []any
	if opts.MessageID != "" {
		query += ` AND message_id = ?`
		args = append(args, opts.MessageID)
	}
	if opts.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*opts.Status))
	}
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toUnix(*opts.Since))
	}
	if opts.UpdatedBefore != nil {
		query += ` AND updated_at < ?`
		args = append(args, toUnix(*opts.UpdatedBefore))
	}
	query += ` ORDER BY created_at ASC`
	query, args = paginate(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing outbox: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning outbox entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CompareAndSetStatus moves an entry from one status to another and appends
// logLine to its log. It fails with ErrDuplicateDispatch if the entry is no
// longer in the from status.
func (s *SQLiteDB) CompareAndSetStatus(ctx context.Context, id string, from, to models.OutboxStatus, logLine string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE msg_outbox
		SET status = ?,
			log = CASE WHEN ? = '' THEN log WHEN log = '' THEN ? ELSE log || char(10) || ? END,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), logLine, logLine, logLine, toUnix(time.Now()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("error updating outbox entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating outbox entry %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetOutboxEntry(ctx, id); err != nil {
		return err
	}
	return ErrDuplicateDispatch
}

// AppendLog records a line against an entry without changing its status.
func (s *SQLiteDB) AppendLog(ctx context.Context, id, logLine string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE msg_outbox
		SET log = CASE WHEN log = '' THEN ? ELSE log || char(10) || ? END, updated_at = ?
		WHERE id = ?`,
		logLine, logLine, toUnix(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("error appending to outbox entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOutbox(row scanner) (*models.OutboxEntry, error) {
	var (
		e                models.OutboxEntry
		recipientID      sql.NullString
		channel, status  string
		created, updated int64
	)
	err := row.Scan(&e.ID, &e.MessageID, &recipientID, &channel, &e.Address, &status,
		&e.SystemGenerated, &e.Log, &created, &updated)
	if err != nil {
		return nil, err
	}
	e.RecipientID = recipientID.String
	e.Channel = models.Channel(channel)
	e.Status = models.OutboxStatus(status)
	e.CreatedAt = fromUnix(created)
	e.UpdatedAt = fromUnix(updated)
	return &e, nil
}
