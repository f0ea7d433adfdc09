package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
	"github.com/mr1hm/go-cap-alerts/internal/models"
)

// AddAlert stores a sealed alert as a single CAP document; its info, resource
// and area children are reached by decoding the document, not by joins.
func (s *SQLiteDB) AddAlert(ctx context.Context, a *cap.Alert, direction models.Direction) (string, error) {
	if !a.Sealed() {
		return "", fmt.Errorf("error adding alert %s: alert has not been sealed", a.Identifier)
	}
	doc, err := cap.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("error encoding alert %s: %w", a.Identifier, err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cap_alerts (id, identifier, sender, sent, status, msg_type, direction, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.Identifier, a.Sender, toUnix(a.Sent()), string(a.Status), string(a.MsgType),
		string(direction), doc, toUnix(time.Now()),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrDuplicateAlert
		}
		return "", fmt.Errorf("error adding alert %s: %w", a.Identifier, err)
	}
	return id, nil
}

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*StoredAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, direction, document, created_at FROM cap_alerts WHERE id = ?`, id)
	sa, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting alert %s: %w", id, err)
	}
	return sa, nil
}

func (s *SQLiteDB) AlertExists(ctx context.Context, sender, identifier string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM cap_alerts WHERE sender = ? AND identifier = ?`, sender, identifier).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error checking alert existence: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts Filter) ([]StoredAlert, error) {
	query := `SELECT id, direction, document, created_at FROM cap_alerts WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND sent >= ?`
		args = append(args, toUnix(*opts.Since))
	}
	if opts.Sender != "" {
		query += ` AND sender = ?`
		args = append(args, opts.Sender)
	}
	if opts.Direction != nil {
		query += ` AND direction = ?`
		args = append(args, string(*opts.Direction))
	}
	query += ` ORDER BY sent DESC`
	query, args = paginate(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []StoredAlert
	for rows.Next() {
		sa, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		alerts = append(alerts, *sa)
	}
	return alerts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*StoredAlert, error) {
	var (
		sa        StoredAlert
		direction string
		doc       []byte
		created   int64
	)
	if err := row.Scan(&sa.ID, &direction, &doc, &created); err != nil {
		return nil, err
	}
	a, err := cap.Unmarshal(doc)
	if err != nil {
		return nil, fmt.Errorf("error decoding stored alert %s: %w", sa.ID, err)
	}
	sa.Alert = a
	sa.Direction = models.Direction(direction)
	sa.CreatedAt = fromUnix(created)
	return &sa, nil
}

func paginate(query string, args []any, opts Filter) (string, []any) {
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}
	return query, args
}
