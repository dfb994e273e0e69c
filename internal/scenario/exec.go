package scenario

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/whatif/internal/errors"
)

// Statement is a validated, parameterized statement bound for a scenario
// store. Values travel in Args, never interpolated into SQL text. Tables
// lists the tables the statement touches, as determined by the validator,
// and is re-checked against the whitelist here for mutations.
type Statement struct {
	SQL    string
	Args   []any
	Tables []string
	IsDDL  bool
}

// ResultSet holds the rows returned by a read-only statement.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Querier is the read surface handed to post-mutation callbacks. It is
// satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Query executes a read-only statement under the scenario's shared lock.
func (s *Store) Query(ctx context.Context, id string, stmt Statement) (*ResultSet, error) {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(id)
	lock.RLock()
	defer lock.RUnlock()

	c, err := s.conn(id, scn.StorePath)
	if err != nil {
		return nil, err
	}

	rows, err := c.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.ErrExecution(err.Error())
	}
	defer func() { _ = rows.Close() }()

	return collectRows(rows)
}

// MutateResult reports what a mutation did.
type MutateResult struct {
	RowsAffected int64
	Duration     time.Duration
}

// Mutate executes a mutating statement in its own transaction under the
// scenario's exclusive lock. Every target table must be whitelisted; a
// statement affecting zero rows is rolled back and surfaced as an execution
// error. The post callback runs inside the same lock, so the immediately
// following parameter snapshot observes no interleaved mutation.
func (s *Store) Mutate(ctx context.Context, id string, stmt Statement, post func(q Querier) error) (*MutateResult, error) {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	// Fail closed: every target table must be explicitly whitelisted.
	whitelist, err := s.catalog.Whitelist(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(stmt.Tables) == 0 {
		return nil, errors.ErrValidation("mutation does not declare a target table")
	}
	for _, table := range stmt.Tables {
		if !whitelist[strings.ToLower(table)] && !whitelist[table] {
			return nil, errors.ErrValidation(
				fmt.Sprintf("table %s is not whitelisted for mutation", table))
		}
	}

	c, err := s.conn(id, scn.StorePath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.ErrExecution(err.Error())
	}

	res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, errors.ErrExecution(err.Error())
	}

	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, errors.ErrExecution(err.Error())
	}
	if affected == 0 && !stmt.IsDDL {
		_ = tx.Rollback()
		return nil, errors.ErrExecutionNoRows(stmt.Tables[0])
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.ErrExecution(err.Error())
	}

	if err := s.catalog.TouchScenario(ctx, id); err != nil {
		slog.Warn("touch scenario failed", "scenario", id, "error", err)
	}
	if s.onMutation != nil {
		s.onMutation(id)
	}

	if post != nil {
		if err := post(c); err != nil {
			return nil, err
		}
	}

	return &MutateResult{
		RowsAffected: affected,
		Duration:     time.Since(start),
	}, nil
}

// ExecAdmin runs an administrative DDL statement (CREATE TABLE, INSERT
// during seeding) under the scenario's exclusive lock, bypassing the
// whitelist. Only the CLI import path and tests use this; request-driven
// mutations always go through Mutate.
func (s *Store) ExecAdmin(ctx context.Context, id, sqlText string, args ...any) error {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.conn(id, scn.StorePath)
	if err != nil {
		return err
	}
	if _, err := c.ExecContext(ctx, sqlText, args...); err != nil {
		return errors.ErrExecution(err.Error())
	}
	if s.onMutation != nil {
		s.onMutation(id)
	}
	return nil
}

// ReadValue returns one scalar from a scenario store, used to resolve
// relative instructions against the current stored value.
func (s *Store) ReadValue(ctx context.Context, id, query string, args ...any) (any, error) {
	rs, err := s.Query(ctx, id, Statement{SQL: query, Args: args})
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 {
		return nil, errors.ErrExecution("query returned no value")
	}
	return rs.Rows[0][0], nil
}

func collectRows(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.ErrExecution(err.Error())
	}

	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.ErrExecution(err.Error())
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrExecution(err.Error())
	}
	return rs, nil
}
