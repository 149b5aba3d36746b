package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER NOT NULL,
    tx_hash TEXT NOT NULL,
    log_index INTEGER NOT NULL,
    height INTEGER NOT NULL,
    contract TEXT NOT NULL,
    name TEXT NOT NULL,
    agent TEXT,
    payload TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    UNIQUE(tx_hash, log_index)
);

CREATE TABLE IF NOT EXISTS agents (
    address TEXT PRIMARY KEY,
    last_pulse_at INTEGER NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    total_burned TEXT NOT NULL DEFAULT '0',
    staked_amount TEXT NOT NULL DEFAULT '0',
    stake_unlock_time INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    tier TEXT NOT NULL DEFAULT 'Basic',
    updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cursor (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent);
CREATE INDEX IF NOT EXISTS idx_events_agent_name ON events(agent, contract, name);
CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq);
CREATE INDEX IF NOT EXISTS idx_agents_updated ON agents(updated_at);`
	_, err := d.db.Exec(schema)
	return err
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- Cursor ---

// Cursor returns the last processed log sequence, 0 if none.
func (d *DB) Cursor(ctx context.Context) (uint64, error) {
	var seq int64
	err := d.db.QueryRowContext(ctx, `SELECT seq FROM cursor WHERE id = 1`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(seq), nil
}

// SetCursor advances the cursor to seq. It never moves backwards.
func (d *DB) SetCursor(ctx context.Context, seq uint64) error {
	return setCursor(ctx, d.db, seq)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setCursor(ctx context.Context, q execer, seq uint64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO cursor (id, seq) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET seq = MAX(seq, excluded.seq)`, int64(seq))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// Reset empties every table. Used when the cached history belongs to a
// different chain than the one being indexed.
func (d *DB) Reset(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()
	for _, table := range []string{"events", "agents", "cursor"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}
