package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newWhitelistCmd() *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage which tables a scenario allows mutations on",
		Long: `Only whitelisted tables can be changed through 'whatif ask'. Reads are
never restricted by the whitelist.`,
	}
	cmd.PersistentFlags().StringVarP(&scenarioID, "scenario", "s", "", "scenario ID (default: active scenario)")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <table>",
		Short: "Allow mutations on a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.resolveScenario(cmd.Context(), scenarioID)
			if err != nil {
				return err
			}
			if err := app.Store.AllowTable(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			successf("Whitelisted table %s for scenario %s", args[0], id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <table>",
		Short: "Disallow mutations on a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.resolveScenario(cmd.Context(), scenarioID)
			if err != nil {
				return err
			}
			if err := app.Store.DisallowTable(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			successf("Removed table %s from the whitelist for scenario %s", args[0], id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the whitelisted tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.resolveScenario(cmd.Context(), scenarioID)
			if err != nil {
				return err
			}
			wl, err := app.Store.Whitelist(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(wl) == 0 {
				fmt.Println("No tables whitelisted.")
				return nil
			}
			tables := make([]string, 0, len(wl))
			for t := range wl {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			for _, t := range tables {
				fmt.Println(t)
			}
			return nil
		},
	})

	return cmd
}
