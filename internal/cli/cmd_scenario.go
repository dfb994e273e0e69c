package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			sc, err := app.Store.Create(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			successf("Created scenario %s (%s)", sc.Name, sc.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "scenario description")
	return cmd
}

func newBranchCmd() *cobra.Command {
	var (
		from        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "branch <name>",
		Short: "Branch a scenario from an existing one",
		Long: `Branch copies the parent scenario's data into a new isolated scenario.
Changes in the branch never affect the parent, and vice versa.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			parentID, err := app.resolveScenario(cmd.Context(), from)
			if err != nil {
				return err
			}
			sc, err := app.Store.Branch(cmd.Context(), args[0], description, parentID)
			if err != nil {
				return err
			}
			successf("Branched scenario %s (%s) from %s", sc.Name, sc.ID, parentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "parent scenario ID (default: active scenario)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "scenario description")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scenarios",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			scenarios, err := app.Store.List(cmd.Context())
			if err != nil {
				return err
			}
			current, err := app.Store.Current(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(scenarios))
			for _, sc := range scenarios {
				active := ""
				if sc.ID == current {
					active = "*"
				}
				rows = append(rows, []string{active, sc.ID, sc.Name, sc.ParentID, sc.CreatedAt.Format("2006-01-02 15:04")})
			}
			printTable([]string{"", "ID", "NAME", "PARENT", "CREATED"}, rows)
			return nil
		},
	}
}

func newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <scenario-id>",
		Short: "Set the active scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			sc, err := app.Store.Activate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			successf("Active scenario: %s (%s)", sc.Name, sc.ID)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <scenario-id>",
		Short: "Delete a scenario and its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			successf("Deleted scenario %s", args[0])
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "download <dest-path>",
		Short: "Export a scenario's store to a standalone SQLite file",
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
			if err := app.Store.Download(cmd.Context(), id, args[0]); err != nil {
				return err
			}
			successf("Exported scenario %s to %s", id, args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "scenario ID (default: active scenario)")
	return cmd
}

func newImportCmd() *cobra.Command {
	var scenarioID string

	cmd := &cobra.Command{
		Use:   "import <file.sql>",
		Short: "Run a SQL file against a scenario's store",
		Long: `Import executes a SQL file directly against the scenario store, bypassing
the approval gate. Use it to seed tables before asking questions.`,
		Args: cobra.ExactArgs(1),
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
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if err := app.Store.ExecAdmin(cmd.Context(), id, string(data)); err != nil {
				return err
			}
			app.Schemas.Invalidate(id)
			successf("Imported %s into scenario %s", args[0], id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "scenario ID (default: active scenario)")
	return cmd
}
