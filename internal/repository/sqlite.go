package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cap_alerts (
			id TEXT PRIMARY KEY,
			identifier TEXT NOT NULL,
			sender TEXT NOT NULL,
			sent INTEGER NOT NULL,
			status TEXT NOT NULL,
			msg_type TEXT NOT NULL,
			direction TEXT NOT NULL,
			document BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (sender, identifier)
		);

		CREATE TABLE IF NOT EXISTS msg_log (
			id TEXT PRIMARY KEY,
			alert_id TEXT,
			direction TEXT NOT NULL,
			sender_name TEXT,
			from_address TEXT,
			recipient TEXT,
			subject TEXT,
			body TEXT,
			priority INTEGER NOT NULL DEFAULT 1,
			verified INTEGER NOT NULL DEFAULT 0,
			verified_comments TEXT,
			actionable INTEGER NOT NULL DEFAULT 1,
			actioned INTEGER NOT NULL DEFAULT 0,
			actioned_comments TEXT,
			is_parsed INTEGER NOT NULL DEFAULT 0,
			reply TEXT,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS msg_outbox (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			recipient_id TEXT,
			channel TEXT NOT NULL,
			address TEXT NOT NULL,
			status TEXT NOT NULL,
			system_generated INTEGER NOT NULL DEFAULT 0,
			log TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (message_id) REFERENCES msg_log(id)
		);

		CREATE TABLE IF NOT EXISTS msg_limit (
			ts INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cap_alerts_sent ON cap_alerts(sent);
		CREATE INDEX IF NOT EXISTS idx_msg_log_created ON msg_log(created_at);
		CREATE INDEX IF NOT EXISTS idx_msg_outbox_message_id ON msg_outbox(message_id);
		CREATE INDEX IF NOT EXISTS idx_msg_outbox_status ON msg_outbox(status);
		CREATE INDEX IF NOT EXISTS idx_msg_limit_ts ON msg_limit(ts);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Times are stored as UTC unix nanoseconds so range queries compare integers.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
