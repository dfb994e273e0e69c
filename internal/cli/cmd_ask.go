package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/whatif/internal/engine"
)

func newAskCmd() *cobra.Command {
	var (
		scenarioID string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Ask a question or propose a change in natural language",
		Long: `Ask sends a natural-language request through the workflow. Reads answer
immediately; modifications stop at a pending approval that must be
resolved with 'whatif approve', 'whatif reject', or 'whatif amend'.`,
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
			resp, err := app.Engine.Handle(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}
			return printResponse(resp, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&scenarioID, "scenario", "s", "", "scenario ID (default: active scenario)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw response as JSON")
	return cmd
}

// printResponse renders an engine response for the terminal.
func printResponse(resp *engine.Response, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Columns) > 0 {
		rows := make([][]string, 0, len(resp.Rows))
		for _, row := range resp.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = formatValue(v)
			}
			rows = append(rows, cells)
		}
		printTable(resp.Columns, rows)
	}

	if resp.Text != "" {
		fmt.Println(resp.Text)
	}
	if resp.RequiresApproval {
		warnf("Awaiting approval: %s", resp.ApprovalID)
		fmt.Printf("Resolve with: whatif approve %s\n", resp.ApprovalID)
	}
	for _, a := range resp.Artifacts {
		fmt.Println("produced:", a)
	}
	return nil
}
