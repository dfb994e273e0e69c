package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		scenarioID string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show executed requests for a scenario",
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
			entries, err := app.Store.History(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No history.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.StartedAt.Format("2006-01-02 15:04:05"),
					fmt.Sprintf("%dms", e.DurationMs),
					e.CommandText,
				})
			}
			printTable([]string{"STARTED", "TOOK", "REQUEST"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "scenario ID (default: active scenario)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show")
	return cmd
}
