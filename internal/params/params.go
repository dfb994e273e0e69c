// Package params takes table snapshots around mutations and reports the
// cell-level differences. The diff is what the user sees as "what changed",
// and it is the post-condition check that a mutation did what was approved.
package params

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/randalmurphal/whatif/internal/errors"
)

// Querier is the read surface snapshots are taken from. Satisfied by *sql.DB
// and by the callback handle a mutation passes through.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Snapshot is the full contents of one table at a point in time. Rows are
// keyed by the value of the table's first column.
type Snapshot struct {
	Table     string
	KeyColumn string
	Columns   []string
	Rows      map[string]map[string]any
}

// Take reads every row of table into a snapshot. Reading a snapshot never
// changes the store; taking the same snapshot twice between mutations yields
// equal contents.
func Take(ctx context.Context, q Querier, table string) (*Snapshot, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, errors.ErrExecution(fmt.Sprintf("snapshot %s: %v", table, err))
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.ErrExecution(err.Error())
	}
	if len(cols) == 0 {
		return nil, errors.ErrExecution(fmt.Sprintf("table %s has no columns", table))
	}

	snap := &Snapshot{
		Table:     table,
		KeyColumn: cols[0],
		Columns:   cols,
		Rows:      make(map[string]map[string]any),
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.ErrExecution(err.Error())
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			row[c] = vals[i]
		}
		snap.Rows[keyString(vals[0])] = row
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ErrExecution(err.Error())
	}
	return snap, nil
}

// Change is one cell that differs between two snapshots.
type Change struct {
	RowKey string `json:"row_key"`
	Column string `json:"column"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Diff is the difference between a before and an after snapshot of one table.
// Changed holds cells present in both snapshots with unequal values; rows
// that appear or disappear are listed separately by key, never folded into
// Changed.
type Diff struct {
	Table   string   `json:"table"`
	Changed []Change `json:"changed,omitempty"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether the two snapshots were identical.
func (d *Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

// Contains reports whether the diff records rowKey.column changing to after.
func (d *Diff) Contains(rowKey, column string, after any) bool {
	for _, c := range d.Changed {
		if c.RowKey == rowKey && strings.EqualFold(c.Column, column) && equalValue(c.After, after) {
			return true
		}
	}
	return false
}

// Summary renders the diff as short human-readable lines.
func (d *Diff) Summary() string {
	var b strings.Builder
	for _, c := range d.Changed {
		fmt.Fprintf(&b, "%s[%s].%s: %v -> %v\n", d.Table, c.RowKey, c.Column, c.Before, c.After)
	}
	for _, k := range d.Added {
		fmt.Fprintf(&b, "%s[%s]: row added\n", d.Table, k)
	}
	for _, k := range d.Removed {
		fmt.Fprintf(&b, "%s[%s]: row removed\n", d.Table, k)
	}
	return b.String()
}

// ValidateApplied confirms a mutation produced exactly the expected change
// set: every expected change appears in the diff with its after value, and
// the diff records nothing beyond them. A trigger or an over-broad statement
// fails here even when the statement itself reported success. Changes match
// on row key, column, and after value; Before is ignored.
func ValidateApplied(expected []Change, d *Diff) error {
	if len(d.Added) > 0 || len(d.Removed) > 0 {
		return errors.ErrExecution(fmt.Sprintf(
			"mutation added or removed rows in %s: added=%v removed=%v",
			d.Table, d.Added, d.Removed))
	}
	matches := func(c, e Change) bool {
		return c.RowKey == e.RowKey && strings.EqualFold(c.Column, e.Column) && equalValue(c.After, e.After)
	}
	for _, e := range expected {
		found := false
		for _, c := range d.Changed {
			if matches(c, e) {
				found = true
				break
			}
		}
		if !found {
			return errors.ErrExecution(fmt.Sprintf(
				"expected change %s[%s].%s -> %v was not applied",
				d.Table, e.RowKey, e.Column, e.After))
		}
	}
	for _, c := range d.Changed {
		found := false
		for _, e := range expected {
			if matches(c, e) {
				found = true
				break
			}
		}
		if !found {
			return errors.ErrExecution(fmt.Sprintf(
				"mutation changed %s[%s].%s from %v to %v beyond the approved change",
				d.Table, c.RowKey, c.Column, c.Before, c.After))
		}
	}
	return nil
}

// Compare diffs two snapshots of the same table. Output ordering is
// deterministic: changes sorted by row key then column, added and removed
// keys sorted.
func Compare(before, after *Snapshot) (*Diff, error) {
	if before.Table != after.Table {
		return nil, errors.ErrValidation(
			fmt.Sprintf("cannot diff %s against %s", before.Table, after.Table))
	}

	d := &Diff{Table: before.Table}

	for key, beforeRow := range before.Rows {
		afterRow, ok := after.Rows[key]
		if !ok {
			d.Removed = append(d.Removed, key)
			continue
		}
		for _, col := range before.Columns {
			bv, bok := beforeRow[col]
			av, aok := afterRow[col]
			if !bok || !aok {
				continue
			}
			if !equalValue(bv, av) {
				d.Changed = append(d.Changed, Change{
					RowKey: key, Column: col, Before: bv, After: av,
				})
			}
		}
	}
	for key := range after.Rows {
		if _, ok := before.Rows[key]; !ok {
			d.Added = append(d.Added, key)
		}
	}

	sort.Slice(d.Changed, func(i, j int) bool {
		if d.Changed[i].RowKey != d.Changed[j].RowKey {
			return d.Changed[i].RowKey < d.Changed[j].RowKey
		}
		return d.Changed[i].Column < d.Changed[j].Column
	})
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d, nil
}

// keyString renders a row-key value as a stable string.
func keyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// equalValue compares two cell values. SQLite's dynamic typing can surface
// the same number as int64 in one snapshot and float64 in the next, so
// numeric values compare by magnitude, not representation.
func equalValue(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
