package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RecordEvent stores ev and, if it was not seen before, applies patch and
// advances the cursor, all in one transaction. It reports whether ev was
// new. Replaying the same (tx_hash, log_index) is a no-op.
func (d *DB) RecordEvent(ctx context.Context, ev *Event, patch *AgentPatch) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin record event: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (seq, tx_hash, log_index, height, contract, name, agent, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq, ev.TxHash, ev.LogIndex, ev.Height, ev.Contract, ev.Name, nullString(ev.Agent), ev.Payload, ev.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if patch != nil {
		if err := applyPatch(ctx, tx, patch); err != nil {
			return false, err
		}
	}
	if err := setCursor(ctx, tx, uint64(ev.Seq)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit record event: %w", err)
	}
	return true, nil
}

// ListEvents returns events for agent, newest first. An empty agent lists
// all events.
func (d *DB) ListEvents(ctx context.Context, agent string, limit int) ([]Event, error) {
	var where []string
	var args []any
	if agent != "" {
		where = append(where, "agent = ?")
		args = append(args, agent)
	}
	return d.listEvents(ctx, where, args, limit)
}

// ListEventsByName returns events named name emitted by contract for agent,
// newest first. The limit applies after filtering.
func (d *DB) ListEventsByName(ctx context.Context, agent, contract, name string, limit int) ([]Event, error) {
	return d.listEvents(ctx,
		[]string{"agent = ?", "contract = ?", "name = ?"},
		[]any{agent, contract, name},
		limit)
}

func (d *DB) listEvents(ctx context.Context, where []string, args []any, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT seq, tx_hash, log_index, height, contract, name, agent, payload, timestamp
		 FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var agentCol sql.NullString
		if err := rows.Scan(&ev.Seq, &ev.TxHash, &ev.LogIndex, &ev.Height, &ev.Contract,
			&ev.Name, &agentCol, &ev.Payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Agent = agentCol.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events.
func (d *DB) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
