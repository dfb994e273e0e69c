package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/randalmurphal/whatif/internal/db/driver"
)

// Scenario is a catalog row describing one isolated dataset copy.
type Scenario struct {
	ID          string
	Name        string
	Description string
	StorePath   string
	ParentID    string // empty for base scenarios
	IsBase      bool
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

const scenarioColumns = "id, name, description, store_path, parent_id, is_base, created_at, modified_at"

// InsertScenario inserts a scenario row.
func (d *DB) InsertScenario(ctx context.Context, s *Scenario) error {
	return d.RunInTx(ctx, func(tx driver.Tx) error {
		return insertScenarioTx(ctx, tx, s)
	})
}

// InsertScenarioTx inserts a scenario row inside an existing transaction.
func InsertScenarioTx(ctx context.Context, tx driver.Tx, s *Scenario) error {
	return insertScenarioTx(ctx, tx, s)
}

func insertScenarioTx(ctx context.Context, tx driver.Tx, s *Scenario) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.ModifiedAt.IsZero() {
		s.ModifiedAt = s.CreatedAt
	}
	isBase := 0
	if s.IsBase {
		isBase = 1
	}
	var parent any
	if s.ParentID != "" {
		parent = s.ParentID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO scenarios (`+scenarioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Description, s.StorePath, parent, isBase,
		s.CreatedAt.Format(time.RFC3339), s.ModifiedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert scenario: %w", err)
	}
	return nil
}

// GetScenario retrieves a scenario by ID. Returns nil when absent.
func (d *DB) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	row := d.QueryRowContext(ctx, `
		SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?
	`, id)
	s, err := scanScenario(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scenario: %w", err)
	}
	return s, nil
}

// ListScenarios returns all scenarios ordered by creation time.
func (d *DB) ListScenarios(ctx context.Context) ([]Scenario, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT `+scenarioColumns+` FROM scenarios ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scenarios []Scenario
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		scenarios = append(scenarios, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	return scenarios, nil
}

// UpdateScenarioMeta updates name/description and bumps modified_at.
// Other scenario fields are immutable after creation.
func (d *DB) UpdateScenarioMeta(ctx context.Context, id, name, description string) error {
	res, err := d.ExecContext(ctx, `
		UPDATE scenarios SET name = ?, description = ?, modified_at = ?
		WHERE id = ?
	`, name, description, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update scenario: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("scenario %s not found", id)
	}
	return nil
}

// TouchScenario bumps modified_at after a successful mutation.
func (d *DB) TouchScenario(ctx context.Context, id string) error {
	_, err := d.ExecContext(ctx, `
		UPDATE scenarios SET modified_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touch scenario: %w", err)
	}
	return nil
}

// HasBranches reports whether any scenario references id as its parent.
func (d *DB) HasBranches(ctx context.Context, id string) (bool, error) {
	var n int
	err := d.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scenarios WHERE parent_id = ?
	`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count branches: %w", err)
	}
	return n > 0, nil
}

// DeleteScenario removes a scenario row and its dependent rows.
func (d *DB) DeleteScenario(ctx context.Context, id string) error {
	_, err := d.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scenario: %w", err)
	}
	return nil
}

const sessionCurrentScenario = "current_scenario"

// SetCurrentScenario records the session default scenario.
func (d *DB) SetCurrentScenario(ctx context.Context, id string) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO session (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, sessionCurrentScenario, id)
	if err != nil {
		return fmt.Errorf("set current scenario: %w", err)
	}
	return nil
}

// CurrentScenario returns the session default scenario ID, or "" when unset.
func (d *DB) CurrentScenario(ctx context.Context) (string, error) {
	var id string
	err := d.QueryRowContext(ctx, `
		SELECT value FROM session WHERE key = ?
	`, sessionCurrentScenario).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get current scenario: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScenario(row rowScanner) (*Scenario, error) {
	var s Scenario
	var parent sql.NullString
	var isBase int
	var createdAt, modifiedAt string

	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.StorePath,
		&parent, &isBase, &createdAt, &modifiedAt); err != nil {
		return nil, err
	}

	if parent.Valid {
		s.ParentID = parent.String
	}
	s.IsBase = isBase == 1
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		s.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, modifiedAt); err == nil {
		s.ModifiedAt = ts
	}
	return &s, nil
}
