package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveCheckpoint stores the serialized workflow state for a suspended
// approval, replacing any previous checkpoint for the same approval.
func (d *DB) SaveCheckpoint(ctx context.Context, approvalID, scenarioID, state string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (approval_id, scenario_id, state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (approval_id) DO UPDATE SET state = excluded.state, created_at = excluded.created_at
	`, approvalID, scenarioID, state, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns the serialized workflow state for an approval, or ""
// when none exists.
func (d *DB) GetCheckpoint(ctx context.Context, approvalID string) (string, error) {
	var state string
	err := d.QueryRowContext(ctx, `
		SELECT state FROM workflow_checkpoints WHERE approval_id = ?
	`, approvalID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get checkpoint: %w", err)
	}
	return state, nil
}

// DeleteCheckpoint removes the checkpoint for an approval once the workflow
// reaches a terminal state.
func (d *DB) DeleteCheckpoint(ctx context.Context, approvalID string) error {
	_, err := d.ExecContext(ctx, `
		DELETE FROM workflow_checkpoints WHERE approval_id = ?
	`, approvalID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
