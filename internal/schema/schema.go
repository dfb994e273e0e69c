// Package schema provides per-scenario table metadata used for statement
// validation and prompt construction.
package schema

import (
	"fmt"
	"strings"
)

// Column describes one column of a scenario table.
type Column struct {
	Name string
	Type string
}

// Table describes one table of a scenario store.
type Table struct {
	Name     string
	Columns  []Column
	RowCount int64
}

// Info is the schema of one scenario store.
type Info struct {
	Tables []Table
}

// Table returns the named table, or nil. Lookup is case-insensitive, matching
// SQLite identifier semantics.
func (i *Info) Table(name string) *Table {
	for idx := range i.Tables {
		if strings.EqualFold(i.Tables[idx].Name, name) {
			return &i.Tables[idx]
		}
	}
	return nil
}

// HasTable reports whether the schema contains the named table.
func (i *Info) HasTable(name string) bool {
	return i.Table(name) != nil
}

// HasColumn reports whether table.column exists in the schema.
func (i *Info) HasColumn(table, column string) bool {
	t := i.Table(table)
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}
	return false
}

// Context renders the schema as completion-prompt context.
func (i *Info) Context() string {
	var b strings.Builder
	for _, t := range i.Tables {
		fmt.Fprintf(&b, "table %s (%d rows):\n", t.Name, t.RowCount)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s\n", c.Name, c.Type)
		}
	}
	return b.String()
}
