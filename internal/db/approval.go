package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/randalmurphal/whatif/internal/db/driver"
)

// PendingApproval is a durable record of a mutating workflow paused for a
// human decision. Immutable once resolved.
type PendingApproval struct {
	ID          string
	ScenarioID  string
	Intent      string
	Statement   string
	Summary     string
	CreatedAt   time.Time
	Resolved    bool
	Decision    string // "approve", "reject", or "amend"
	AmendedText string
	ResolvedAt  *time.Time
}

const approvalColumns = "id, scenario_id, intent, statement, summary, created_at, resolved, decision, amended_text, resolved_at"

// InsertApproval inserts a new open approval. The partial unique index on
// (scenario_id) WHERE resolved = 0 enforces at most one open approval per
// scenario at the database level.
func (d *DB) InsertApproval(ctx context.Context, a *PendingApproval) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO pending_approvals (id, scenario_id, intent, statement, summary, created_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, a.ID, a.ScenarioID, a.Intent, a.Statement, a.Summary,
		a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// InsertApprovalWithCheckpoint inserts an open approval and its workflow
// checkpoint in one transaction: an approval can never exist without the
// checkpoint resumption starts from, and a failed checkpoint write leaves
// no half-open approval behind.
func (d *DB) InsertApprovalWithCheckpoint(ctx context.Context, a *PendingApproval, state string) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return d.RunInTx(ctx, func(tx driver.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pending_approvals (id, scenario_id, intent, statement, summary, created_at, resolved)
			VALUES (?, ?, ?, ?, ?, ?, 0)
		`, a.ID, a.ScenarioID, a.Intent, a.Statement, a.Summary,
			a.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_checkpoints (approval_id, scenario_id, state, created_at)
			VALUES (?, ?, ?, ?)
		`, a.ID, a.ScenarioID, state, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		return nil
	})
}

// GetApproval retrieves an approval by ID. Returns nil when absent.
func (d *DB) GetApproval(ctx context.Context, id string) (*PendingApproval, error) {
	row := d.QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM pending_approvals WHERE id = ?
	`, id)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

// OpenApproval returns the unresolved approval for a scenario, or nil.
func (d *DB) OpenApproval(ctx context.Context, scenarioID string) (*PendingApproval, error) {
	row := d.QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM pending_approvals
		WHERE scenario_id = ? AND resolved = 0
	`, scenarioID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open approval: %w", err)
	}
	return a, nil
}

// ListOpenApprovals returns all unresolved approvals, oldest first.
func (d *DB) ListOpenApprovals(ctx context.Context) ([]PendingApproval, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM pending_approvals
		WHERE resolved = 0 ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list open approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var approvals []PendingApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return approvals, nil
}

// ResolveApproval marks an open approval as resolved with the given
// decision. Returns false when the approval was already resolved.
func (d *DB) ResolveApproval(ctx context.Context, id, decision, amendedText string) (bool, error) {
	res, err := d.ExecContext(ctx, `
		UPDATE pending_approvals
		SET resolved = 1, decision = ?, amended_text = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0
	`, decision, amendedText, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	return n > 0, nil
}

func scanApproval(row rowScanner) (*PendingApproval, error) {
	var a PendingApproval
	var resolved int
	var decision, amended, resolvedAt sql.NullString
	var createdAt string

	if err := row.Scan(&a.ID, &a.ScenarioID, &a.Intent, &a.Statement, &a.Summary,
		&createdAt, &resolved, &decision, &amended, &resolvedAt); err != nil {
		return nil, err
	}

	a.Resolved = resolved == 1
	if decision.Valid {
		a.Decision = decision.String
	}
	if amended.Valid {
		a.AmendedText = amended.String
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = ts
	}
	if resolvedAt.Valid {
		if ts, err := time.Parse(time.RFC3339, resolvedAt.String); err == nil {
			a.ResolvedAt = &ts
		}
	}
	return &a, nil
}
