package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/whatif/internal/schema"
)

// IntrospectSchema reads the live table/column metadata of a scenario store.
// Implements schema.Loader.
func (s *Store) IntrospectSchema(ctx context.Context, id string) (*schema.Info, error) {
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

	rows, err := c.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name NOT LIKE '\_%' ESCAPE '\'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	info := &schema.Info{}
	for _, name := range names {
		table := schema.Table{Name: name}

		colRows, err := c.QueryContext(ctx,
			fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(name)))
		if err != nil {
			return nil, fmt.Errorf("table info %s: %w", name, err)
		}
		for colRows.Next() {
			var cid int
			var colName, colType string
			var notNull, pk int
			var dflt any
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				_ = colRows.Close()
				return nil, fmt.Errorf("scan column of %s: %w", name, err)
			}
			table.Columns = append(table.Columns, schema.Column{Name: colName, Type: colType})
		}
		if err := colRows.Err(); err != nil {
			_ = colRows.Close()
			return nil, fmt.Errorf("iterate columns of %s: %w", name, err)
		}
		_ = colRows.Close()

		var count int64
		if err := c.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(name))).Scan(&count); err != nil {
			return nil, fmt.Errorf("count rows of %s: %w", name, err)
		}
		table.RowCount = count

		info.Tables = append(info.Tables, table)
	}

	return info, nil
}

// quoteIdent quotes a SQL identifier. Identifiers come from sqlite_master,
// not user input, but quoting keeps odd table names safe.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
