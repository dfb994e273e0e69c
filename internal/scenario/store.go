// Package scenario owns the scenario catalog and the per-scenario store
// files. All store access is mediated here: other components receive query
// results or callback handles, never a raw connection.
//
// Branching is copy-on-branch: a branch is created by copying the parent's
// store file byte-for-byte, and the two stores evolve independently from
// that point. Store files are real files (copied, never symlinked) so a
// scenario's data is never shared by reference with another scenario.
package scenario

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // store files are always SQLite

	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/errors"
)

// Store manages scenarios: catalog rows, store files, locks, and history.
type Store struct {
	catalog *db.DB
	dir     string

	locks *lockTable

	connMu sync.Mutex
	conns  map[string]*sql.DB

	// onMutation is invoked after every successful mutation, outside the
	// store transaction but inside the scenario write lock. The schema
	// cache registers here.
	onMutation func(scenarioID string)
}

// NewStore creates a scenario store rooted at dir, backed by the catalog.
func NewStore(catalog *db.DB, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scenarios directory: %w", err)
	}
	return &Store{
		catalog: catalog,
		dir:     dir,
		locks:   newLockTable(),
		conns:   make(map[string]*sql.DB),
	}, nil
}

// OnMutation registers a callback invoked after each successful mutation.
func (s *Store) OnMutation(fn func(scenarioID string)) {
	s.onMutation = fn
}

// Catalog exposes the catalog database for read-side collaborators (gate,
// API listings). Store files stay private to this package.
func (s *Store) Catalog() *db.DB {
	return s.catalog
}

// Create creates a scratch scenario with an empty schema.
func (s *Store) Create(ctx context.Context, name, description string) (*db.Scenario, error) {
	id := uuid.NewString()
	path := s.storePath(id)

	if err := initEmptyStore(path); err != nil {
		return nil, fmt.Errorf("init store file: %w", err)
	}

	scn := &db.Scenario{
		ID:          id,
		Name:        name,
		Description: description,
		StorePath:   path,
		IsBase:      true,
	}
	if err := s.catalog.InsertScenario(ctx, scn); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return scn, nil
}

// Branch creates a scenario by copying the parent's store file. The parent's
// write lock is held during the copy so no mutation is captured mid-write.
func (s *Store) Branch(ctx context.Context, name, description, parentID string) (*db.Scenario, error) {
	parent, err := s.catalog.GetScenario(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, errors.ErrScenarioNotFound(parentID)
	}

	id := uuid.NewString()
	path := s.storePath(id)

	// Exclusive lock on the parent: the WAL must be checkpointed into the
	// main file before the byte copy, and no writer may interleave.
	lock := s.locks.get(parentID)
	lock.Lock()
	err = func() error {
		if err := s.checkpointStore(parentID, parent.StorePath); err != nil {
			return err
		}
		return copyFile(parent.StorePath, path)
	}()
	lock.Unlock()
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("copy parent store: %w", err)
	}

	scn := &db.Scenario{
		ID:          id,
		Name:        name,
		Description: description,
		StorePath:   path,
		ParentID:    parentID,
	}
	if err := s.catalog.InsertScenario(ctx, scn); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return scn, nil
}

// Get returns a scenario by ID, failing with NotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*db.Scenario, error) {
	scn, err := s.catalog.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	if scn == nil {
		return nil, errors.ErrScenarioNotFound(id)
	}
	return scn, nil
}

// List returns all scenarios.
func (s *Store) List(ctx context.Context) ([]db.Scenario, error) {
	return s.catalog.ListScenarios(ctx)
}

// Activate sets the session default scenario.
func (s *Store) Activate(ctx context.Context, id string) (*db.Scenario, error) {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetCurrentScenario(ctx, id); err != nil {
		return nil, err
	}
	return scn, nil
}

// Current returns the session default scenario ID, or "" when unset.
func (s *Store) Current(ctx context.Context) (string, error) {
	return s.catalog.CurrentScenario(ctx)
}

// Delete removes a scenario's catalog row and store file together. Deletion
// is refused while branches reference the scenario, so a branch's parent
// reference can never dangle.
func (s *Store) Delete(ctx context.Context, id string) error {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	has, err := s.catalog.HasBranches(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return errors.ErrIntegrity(
			fmt.Sprintf("cannot delete scenario %s", id),
			"branches created from this scenario still exist")
	}

	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	s.closeConn(id)

	if err := s.catalog.DeleteScenario(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(scn.StorePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove store file: %w", err)
	}
	s.locks.drop(id)
	return nil
}

// Download copies a scenario's store file to destPath. The store is a plain
// SQLite file, independently openable by any SQLite client.
func (s *Store) Download(ctx context.Context, id, destPath string) error {
	scn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkpointStore(id, scn.StorePath); err != nil {
		return err
	}
	if err := copyFile(scn.StorePath, destPath); err != nil {
		return fmt.Errorf("download store: %w", err)
	}
	return nil
}

// checkpointStore folds the WAL into the main store file so a byte copy of
// the file captures every committed write. Caller holds the write lock.
func (s *Store) checkpointStore(id, path string) error {
	c, err := s.conn(id, path)
	if err != nil {
		return err
	}
	if _, err := c.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	return nil
}

// AllowTable adds a table to the mutation whitelist. Whitelist changes hold
// the same write lock as mutations, so a change cannot race with an
// in-flight validated-but-not-yet-executed statement.
func (s *Store) AllowTable(ctx context.Context, id, table string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()
	return s.catalog.AllowTable(ctx, id, table)
}

// DisallowTable removes a table from the mutation whitelist.
func (s *Store) DisallowTable(ctx context.Context, id, table string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()
	return s.catalog.DisallowTable(ctx, id, table)
}

// Whitelist returns the mutation whitelist for a scenario.
func (s *Store) Whitelist(ctx context.Context, id string) (map[string]bool, error) {
	return s.catalog.Whitelist(ctx, id)
}

// AppendHistory records an execution history entry. Fire-and-forget: a
// failure here must never fail the caller's primary operation.
func (s *Store) AppendHistory(ctx context.Context, e *db.ExecutionHistoryEntry) {
	if err := s.catalog.AppendHistory(ctx, e); err != nil {
		slog.Warn("append execution history failed",
			"scenario", e.ScenarioID, "error", err)
	}
}

// History returns history entries for a scenario, newest first.
func (s *Store) History(ctx context.Context, id string, limit int) ([]db.ExecutionHistoryEntry, error) {
	return s.catalog.ListHistory(ctx, id, limit)
}

// storePath returns the store file path for a scenario ID.
func (s *Store) storePath(id string) string {
	return filepath.Join(s.dir, id+".db")
}

// conn returns a pooled connection to a scenario store.
func (s *Store) conn(id, path string) (*sql.DB, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if c, ok := s.conns[id]; ok {
		return c, nil
	}

	c, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scenario store: %w", err)
	}
	if _, err := c.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set store pragmas: %w", err)
	}

	s.conns[id] = c
	return c, nil
}

func (s *Store) closeConn(id string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if c, ok := s.conns[id]; ok {
		_ = c.Close()
		delete(s.conns, id)
	}
}

// Close closes all open store connections.
func (s *Store) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
	return nil
}

// initEmptyStore creates a fresh store file with an empty schema.
func initEmptyStore(path string) error {
	c, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// Force file creation and a stable journal mode.
	if _, err := c.Exec(`PRAGMA journal_mode = WAL; PRAGMA user_version = 1;`); err != nil {
		return err
	}
	return nil
}

// copyFile copies src to dst byte-for-byte. dst must not already exist.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
