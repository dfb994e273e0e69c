package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/whatif/internal/gate"
)

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List approvals waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			approvals, err := app.Gate.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if len(approvals) == 0 {
				fmt.Println("No pending approvals.")
				return nil
			}

			rows := make([][]string, 0, len(approvals))
			for _, a := range approvals {
				rows = append(rows, []string{a.ID, a.ScenarioID, a.Summary, a.CreatedAt.Format("2006-01-02 15:04")})
			}
			printTable([]string{"ID", "SCENARIO", "SUMMARY", "CREATED"}, rows)
			return nil
		},
	}
}

func newApproveCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "approve <approval-id>",
		Short: "Approve a pending change and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveApproval(cmd, args[0], gate.DecisionApprove, "", jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw response as JSON")
	return cmd
}

func newRejectCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "reject <approval-id>",
		Short: "Reject a pending change without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveApproval(cmd, args[0], gate.DecisionReject, "", jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw response as JSON")
	return cmd
}

func newAmendCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "amend <approval-id> <new-request>",
		Short: "Replace a pending change with an amended request",
		Long: `Amend discards the pending change, regenerates a plan from the new
request text, and opens a fresh approval. Nothing executes until that
approval is approved.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveApproval(cmd, args[0], gate.DecisionAmend, args[1], jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw response as JSON")
	return cmd
}

func resolveApproval(cmd *cobra.Command, approvalID string, decision gate.Decision, amendedText string, jsonOut bool) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.Engine.Resolve(cmd.Context(), approvalID, decision, amendedText)
	if err != nil {
		return err
	}
	return printResponse(resp, jsonOut)
}
