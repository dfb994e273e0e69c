package db

import (
	"context"
	"fmt"
)

// AllowTable adds a table to a scenario's mutation whitelist.
func (d *DB) AllowTable(ctx context.Context, scenarioID, table string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO table_whitelist (scenario_id, table_name) VALUES (?, ?)
		ON CONFLICT (scenario_id, table_name) DO NOTHING
	`, scenarioID, table)
	if err != nil {
		return fmt.Errorf("allow table: %w", err)
	}
	return nil
}

// DisallowTable removes a table from a scenario's mutation whitelist.
func (d *DB) DisallowTable(ctx context.Context, scenarioID, table string) error {
	_, err := d.ExecContext(ctx, `
		DELETE FROM table_whitelist WHERE scenario_id = ? AND table_name = ?
	`, scenarioID, table)
	if err != nil {
		return fmt.Errorf("disallow table: %w", err)
	}
	return nil
}

// Whitelist returns the set of tables eligible for mutation in a scenario.
// The default is empty: mutations fail closed until tables are allowed.
func (d *DB) Whitelist(ctx context.Context, scenarioID string) (map[string]bool, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT table_name FROM table_whitelist WHERE scenario_id = ?
	`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("get whitelist: %w", err)
	}
	defer func() { _ = rows.Close() }()

	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		set[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whitelist: %w", err)
	}
	return set, nil
}
