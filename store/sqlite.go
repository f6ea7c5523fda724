package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createSessionValuesSQL = `
CREATE TABLE IF NOT EXISTS session_values (
    sid TEXT NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (sid, name)
);
CREATE INDEX IF NOT EXISTS idx_session_values_expires ON session_values(expires_at);
`

// SQLite stores session values in a single table. Writes refresh the expiry of
// every row of the session.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLite opens (creating if needed) the database at dsn. Use ":memory:" for
// a throwaway database.
func NewSQLite(ctx context.Context, dsn string, ttl time.Duration) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("store: sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createSessionValuesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create session_values table: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLite) Get(ctx context.Context, sid, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_values WHERE sid = ? AND name = ? AND expires_at > ?`,
		sid, key, s.now().Unix(),
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: sqlite get: %w", err)
	}
	return v, nil
}

func (s *SQLite) Set(ctx context.Context, sid, key, value string) error {
	now := s.now()
	exp := now.Add(s.ttl).Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: sqlite begin: %w", err)
	}
	defer tx.Rollback()

	// Drop leftovers of an expired session so they do not come back to life.
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_values WHERE sid = ? AND expires_at <= ?`, sid, now.Unix()); err != nil {
		return fmt.Errorf("store: sqlite set: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_values (sid, name, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sid, name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		sid, key, value, exp,
	); err != nil {
		return fmt.Errorf("store: sqlite set: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE session_values SET expires_at = ? WHERE sid = ?`, exp, sid); err != nil {
		return fmt.Errorf("store: sqlite set: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) Delete(ctx context.Context, sid string, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE sid = ? AND name = ?`, sid, k); err != nil {
			return fmt.Errorf("store: sqlite delete: %w", err)
		}
	}
	return nil
}

// Purge removes expired rows and returns how many were deleted.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
