package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/randalmurphal/whatif/internal/completion"
	"github.com/randalmurphal/whatif/internal/config"
	"github.com/randalmurphal/whatif/internal/db"
	"github.com/randalmurphal/whatif/internal/db/driver"
	"github.com/randalmurphal/whatif/internal/engine"
	"github.com/randalmurphal/whatif/internal/events"
	"github.com/randalmurphal/whatif/internal/gate"
	"github.com/randalmurphal/whatif/internal/runner"
	"github.com/randalmurphal/whatif/internal/scenario"
	"github.com/randalmurphal/whatif/internal/schema"
)

// App wires the whatif components for a workspace. Commands open one per
// invocation and close it when done.
type App struct {
	Config  *config.Config
	Catalog *db.DB
	Store   *scenario.Store
	Schemas *schema.Cache
	Gate    *gate.Gate
	Engine  *engine.Engine
	Pub     *events.MemoryPublisher

	workdir string
}

// requireInit returns an error unless the working directory has been
// initialized with `whatif init`.
func requireInit() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(wd, config.WhatifDir)); os.IsNotExist(err) {
		return "", fmt.Errorf("not a whatif workspace (run 'whatif init' first)")
	}
	return wd, nil
}

// openApp loads config and wires the full stack for the current workspace.
func openApp() (*App, error) {
	wd, err := requireInit()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(wd)
	if err != nil {
		return nil, err
	}

	dsn := cfg.CatalogDSN
	dialect := driver.Dialect(cfg.CatalogDialect)
	if dialect == "" {
		dialect = driver.DialectSQLite
	}
	if dialect == driver.DialectSQLite && dsn == "" {
		dsn = filepath.Join(wd, config.WhatifDir, config.CatalogFileName)
	}
	catalog, err := db.OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, err
	}

	store, err := scenario.NewStore(catalog, filepath.Join(wd, config.WhatifDir, config.ScenariosDirName))
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}

	pub := events.NewMemoryPublisher()
	schemas := schema.NewCache(store)
	store.OnMutation(func(id string) {
		schemas.Invalidate(id)
		pub.Publish(events.NewEvent(events.EventScenarioMutated, id, nil))
	})

	g := gate.New(catalog, pub)
	client := completion.NewHTTPClient(cfg.CompletionEndpoint, cfg.CompletionModel, cfg.GenerateTimeout.Std())

	opts := []engine.Option{
		engine.WithTimeouts(cfg.ClassifyTimeout.Std(), cfg.GenerateTimeout.Std()),
		engine.WithPublisher(pub),
	}
	if cfg.DownstreamScript != "" {
		opts = append(opts, engine.WithRunner(runner.New(wd, cfg.ProducedGlobs...), cfg.DownstreamScript))
	}
	eng := engine.New(store, schemas, client, g, opts...)

	return &App{
		Config:  cfg,
		Catalog: catalog,
		Store:   store,
		Schemas: schemas,
		Gate:    g,
		Engine:  eng,
		Pub:     pub,
		workdir: wd,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	a.Pub.Close()
	_ = a.Store.Close()
	_ = a.Catalog.Close()
}

// resolveScenario maps a --scenario flag value to a scenario ID, falling
// back to the active scenario when the flag is empty.
func (a *App) resolveScenario(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	id, err := a.Store.Current(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("no active scenario (use 'whatif use <id>' or pass --scenario)")
	}
	return id, nil
}
