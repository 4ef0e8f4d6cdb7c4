// Package sqlite persists chat, notes, file metadata and audit events in
// a single SQLite database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/Telecare/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	sender_role TEXT NOT NULL,
	text        TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_session ON chat_messages(session_id, created_at, id);

CREATE TABLE IF NOT EXISTS notes (
	session_id   TEXT PRIMARY KEY,
	therapist_id TEXT NOT NULL,
	client_id    TEXT NOT NULL,
	text         TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	uploader_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	url         TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS files_session ON files(session_id, created_at);

CREATE TABLE IF NOT EXISTS audit_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	metadata   TEXT,
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_session ON audit_events(session_id, ts);
`

// DB wraps the SQLite database shared by every repository.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" keeps everything
// on a single connection.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrPersistence, err))
}

func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }
