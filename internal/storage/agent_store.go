package storage

import (
	"context"
	"errors"
	"database/sql"
	"fmt"
	"strings"
)

const agentColumns = `address, last_pulse_at, streak, total_burned, staked_amount,
	stake_unlock_time, score, tier, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(&a.Address, &a.LastPulseAt, &a.Streak, &a.TotalBurned, &a.StakedAmount,
		&a.StakeUnlockTime, &a.Score, &a.Tier, &a.UpdatedAt)
	return a, err
}

// GetAgent retrieves the cached row for address. A missing row returns an
// error wrapping sql.ErrNoRows.
func (d *DB) GetAgent(ctx context.Context, address string) (*Agent, error) {
	a, err := scanAgent(d.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE address = ?`, address))
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// UpsertAgent replaces the cached row for a.Address.
func (d *DB) UpsertAgent(ctx context.Context, a *Agent) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		   last_pulse_at = excluded.last_pulse_at,
		   streak = excluded.streak,
		   total_burned = excluded.total_burned,
		   staked_amount = excluded.staked_amount,
		   stake_unlock_time = excluded.stake_unlock_time,
		   score = excluded.score,
		   tier = excluded.tier,
		   updated_at = excluded.updated_at`,
		a.Address, a.LastPulseAt, a.Streak, a.TotalBurned, a.StakedAmount,
		a.StakeUnlockTime, a.Score, a.Tier, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// PatchAgent applies p outside of an event transaction.
func (d *DB) PatchAgent(ctx context.Context, p *AgentPatch) error {
	return applyPatch(ctx, d.db, p)
}

func applyPatch(ctx context.Context, q execer, p *AgentPatch) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO agents (address) VALUES (?) ON CONFLICT(address) DO NOTHING`, p.Address); err != nil {
		return fmt.Errorf("patch agent: %w", err)
	}

	sets := []string{"updated_at = ?"}
	args := []any{p.UpdatedAt}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.LastPulseAt != nil {
		add("last_pulse_at", *p.LastPulseAt)
	}
	if p.Streak != nil {
		add("streak", *p.Streak)
	}
	if p.TotalBurned != nil {
		add("total_burned", *p.TotalBurned)
	}
	if p.StakedAmount != nil {
		add("staked_amount", *p.StakedAmount)
	}
	if p.StakeUnlockTime != nil {
		add("stake_unlock_time", *p.StakeUnlockTime)
	}
	if p.Score != nil {
		add("score", *p.Score)
	}
	if p.Tier != nil {
		add("tier", *p.Tier)
	}
	args = append(args, p.Address)

	if _, err := q.ExecContext(ctx,
		`UPDATE agents SET `+strings.Join(sets, ", ")+` WHERE address = ?`, args...); err != nil {
		return fmt.Errorf("patch agent: %w", err)
	}
	return nil
}

// StaleAgents returns up to limit addresses whose rows were refreshed
// before cutoff (unix seconds), oldest first.
func (d *DB) StaleAgents(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT address FROM agents WHERE updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale agents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan stale agent: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// ListAgents returns every cached row ordered by score, highest first.
func (d *DB) ListAgents(ctx context.Context, limit int) ([]Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY score DESC, address ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// IsNotFound reports whether err came from a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
