package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	site_id    TEXT PRIMARY KEY,
	state      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps one session row per site in an SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// OpenSQLite opens (creating if needed) the database at path with WAL
// pragmas applied. ":memory:" is accepted for tests.
func OpenSQLite(path, key string) (*SQLiteStore, error) {
	if key == "" {
		key = "default"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("session: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open db: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("session: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: schema: %w", err)
	}

	return &SQLiteStore{db: db, key: key}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE site_id = ?`, s.key).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if len(state) == 0 {
		return nil, ErrNotFound
	}
	return state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state []byte) error {
	return execRetry(ctx, s.db, `
		INSERT INTO sessions (site_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		s.key, state, time.Now().Unix())
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const maxRetries = 3

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked")
}

// execRetry retries on SQLITE_BUSY with 100/200 ms backoff.
func execRetry(ctx context.Context, db *sql.DB, query string, args ...any) error {
	for i := 0; i < maxRetries; i++ {
		_, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxRetries-1 {
			return fmt.Errorf("session: save: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("session: save: %w", ctx.Err())
		case <-time.After(time.Duration(100*(i+1)) * time.Millisecond):
		}
	}
	return nil
}
