// Package db test helpers.
//
// Tests that need a catalog should use NewTestDB: in-memory databases are
// much faster than file-based ones and are cleaned up automatically.
package db

import (
	"testing"
)

// NewTestDB creates an in-memory catalog database for testing. Migrations
// are applied and the database is closed when the test completes.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test catalog db: %v", err)
	}

	t.Cleanup(func() {
		_ = d.Close()
	})

	return d
}
