package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/whatif/internal/config"
	"github.com/randalmurphal/whatif/internal/db"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a whatif workspace in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}

			cfgDir := filepath.Join(wd, config.WhatifDir)
			if _, err := os.Stat(cfgDir); err == nil {
				return fmt.Errorf("workspace already initialized (%s exists)", config.WhatifDir)
			}
			if err := os.MkdirAll(filepath.Join(cfgDir, config.ScenariosDirName), 0755); err != nil {
				return err
			}

			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return err
			}
			cfgPath := filepath.Join(cfgDir, config.ConfigFileName)
			if err := os.WriteFile(cfgPath, data, 0644); err != nil {
				return err
			}

			// Create the catalog up front so the first command does not pay
			// the migration cost.
			catalog, err := db.Open(filepath.Join(cfgDir, config.CatalogFileName))
			if err != nil {
				return err
			}
			defer func() { _ = catalog.Close() }()

			successf("Initialized whatif workspace in %s", cfgDir)
			fmt.Println("Edit", cfgPath, "to point at your completion service.")
			return nil
		},
	}
}
