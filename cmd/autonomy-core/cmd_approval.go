package main

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	approverFlag string
	notesFlag    string
)

func init() {
	approveGoalCmd.Flags().StringVar(&approverFlag, "approver", "", "identity of the approving operator")
	approveGoalCmd.Flags().StringVar(&notesFlag, "notes", "", "optional approval notes")
	approveGoalCmd.MarkFlagRequired("approver")

	rejectGoalCmd.Flags().StringVar(&approverFlag, "approver", "", "identity of the rejecting operator")
	rejectGoalCmd.Flags().StringVar(&notesFlag, "notes", "", "optional rejection notes")
	rejectGoalCmd.MarkFlagRequired("approver")

	rootCmd.AddCommand(approveGoalCmd)
	rootCmd.AddCommand(rejectGoalCmd)
}

var approveGoalCmd = &cobra.Command{
	Use:   "approve-goal <goal-id>",
	Short: "Approve an identified goal, turning it into a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		defer d.close()

		project, err := d.workflow.Approve(context.Background(), args[0], approverFlag, notesFlag)
		if err != nil {
			return err
		}
		return printJSON(project)
	},
}

var rejectGoalCmd = &cobra.Command{
	Use:   "reject-goal <goal-id>",
	Short: "Reject an identified goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.workflow.Reject(args[0], approverFlag, notesFlag); err != nil {
			return err
		}
		return printJSON(map[string]string{"goal_id": args[0], "status": "rejected"})
	},
}
