package repository

import (
	"context"
	"fmt"
	"time"
)

// LimitStore persists one row per admitted send in msg_limit so the send
// window survives restarts.
type LimitStore struct {
	db *SQLiteDB
}

func (s *SQLiteDB) LimitStore() *LimitStore {
	return &LimitStore{db: s}
}

func (l *LimitStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := l.db.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM msg_limit WHERE ts > ?`, toUnix(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting sends: %w", err)
	}
	return n, nil
}

func (l *LimitStore) Record(ctx context.Context, at time.Time) error {
	if _, err := l.db.db.ExecContext(ctx, `INSERT INTO msg_limit (ts) VALUES (?)`, toUnix(at)); err != nil {
		return fmt.Errorf("error recording send: %w", err)
	}
	return nil
}

func (l *LimitStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.db.ExecContext(ctx, `DELETE FROM msg_limit WHERE ts <= ?`, toUnix(before))
	if err != nil {
		return 0, fmt.Errorf("error pruning sends: %w", err)
	}
	return res.RowsAffected()
}
