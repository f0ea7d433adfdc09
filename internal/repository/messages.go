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

const messageColumns = `id, alert_id, direction, sender_name, from_address, recipient, subject, body,
	priority, verified, verified_comments, actionable, actioned, actioned_comments, is_parsed, reply, created_at`

// AddMessage inserts m, filling in ID and CreatedAt when unset.
func (s *SQLiteDB) AddMessage(ctx context.Context, m *models.MessageLog) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Priority == 0 {
		m.Priority = models.PriorityLow
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO msg_log (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AlertID, string(m.Direction), m.SenderDisplayName, m.FromAddress, m.RecipientRaw,
		m.Subject, m.Body, int(m.Priority), m.Verified, m.VerifiedComment, m.Actionable,
		m.Actioned, m.ActionedComment, m.IsParsed, m.Reply, toUnix(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("error adding message %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetMessage(ctx context.Context, id string) (*models.MessageLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM msg_log WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting message %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteDB) ListMessages(ctx context.Context, opts Filter) ([]models.MessageLog, error) {
	query := `SELECT ` + messageColumns + ` FROM msg_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toUnix(*opts.Since))
	}
	if opts.Direction != nil {
		query += ` AND direction = ?`
		args = append(args, string(*opts.Direction))
	}
	query += ` ORDER BY created_at DESC`
	query, args = paginate(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}
	defer rows.Close()

	var messages []models.MessageLog
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *SQLiteDB) MarkParsed(ctx context.Context, id string) error {
	return s.updateMessage(ctx, id, `UPDATE msg_log SET is_parsed = 1 WHERE id = ?`, id)
}

func (s *SQLiteDB) MarkVerified(ctx context.Context, id, comment string) error {
	return s.updateMessage(ctx, id, `UPDATE msg_log SET verified = 1, verified_comments = ? WHERE id = ?`, comment, id)
}

func (s *SQLiteDB) MarkActioned(ctx context.Context, id, comment string) error {
	return s.updateMessage(ctx, id, `UPDATE msg_log SET actioned = 1, actioned_comments = ? WHERE id = ?`, comment, id)
}

func (s *SQLiteDB) SetReply(ctx context.Context, id, reply string) error {
	return s.updateMessage(ctx, id, `UPDATE msg_log SET reply = ? WHERE id = ?`, reply, id)
}

func (s *SQLiteDB) updateMessage(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error updating message %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMessage(row scanner) (*models.MessageLog, error) {
	var (
		m                                                   models.MessageLog
		alertID, senderName, from, recipient, subject, body sql.NullString
		verifiedComment, actionedComment, reply             sql.NullString
		direction                                           string
		priority                                            int
		created                                             int64
	)
	err := row.Scan(&m.ID, &alertID, &direction, &senderName, &from, &recipient, &subject, &body,
		&priority, &m.Verified, &verifiedComment, &m.Actionable, &m.Actioned, &actionedComment,
		&m.IsParsed, &reply, &created)
	if err != nil {
		return nil, err
	}
	m.AlertID = alertID.String
	m.Direction = models.Direction(direction)
	m.SenderDisplayName = senderName.String
	m.FromAddress = from.String
	m.RecipientRaw = recipient.String
	m.Subject = subject.String
	m.Body = body.String
	m.Priority = models.Priority(priority)
	m.VerifiedComment = verifiedComment.String
	m.ActionedComment = actionedComment.String
	m.Reply = reply.String
	m.CreatedAt = fromUnix(created)
	return &m, nil
}
