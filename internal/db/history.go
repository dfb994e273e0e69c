package db

import (
	"context"
	"fmt"
	"time"
)

// ExecutionHistoryEntry is one append-only audit record per executed command
// or downstream script run. Entries are never mutated; they are removed only
// by the scenario deletion cascade.
type ExecutionHistoryEntry struct {
	ID          int64
	ScenarioID  string
	CommandText string
	Stdout      string
	Stderr      string
	StartedAt   time.Time
	DurationMs  int64
}

// AppendHistory inserts an execution history entry.
func (d *DB) AppendHistory(ctx context.Context, e *ExecutionHistoryEntry) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	result, err := d.ExecContext(ctx, `
		INSERT INTO execution_history (scenario_id, command_text, stdout, stderr, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ScenarioID, e.CommandText, e.Stdout, e.Stderr,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.DurationMs)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	id, _ := result.LastInsertId()
	e.ID = id
	return nil
}

// ListHistory returns history entries for a scenario, newest first.
// limit <= 0 returns all entries.
func (d *DB) ListHistory(ctx context.Context, scenarioID string, limit int) ([]ExecutionHistoryEntry, error) {
	query := `
		SELECT id, scenario_id, command_text, stdout, stderr, started_at, duration_ms
		FROM execution_history WHERE scenario_id = ?
		ORDER BY started_at DESC, id DESC
	`
	args := []any{scenarioID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []ExecutionHistoryEntry
	for rows.Next() {
		var e ExecutionHistoryEntry
		var startedAt string
		if err := rows.Scan(&e.ID, &e.ScenarioID, &e.CommandText, &e.Stdout,
			&e.Stderr, &startedAt, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			e.StartedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// CountHistory returns the number of history entries for a scenario.
func (d *DB) CountHistory(ctx context.Context, scenarioID string) (int, error) {
	var n int
	err := d.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM execution_history WHERE scenario_id = ?
	`, scenarioID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}
