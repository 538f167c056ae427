package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fablab/autonomy-core/internal/model"
)

var goalsStatusFilter string

func init() {
	goalsListCmd.Flags().StringVar(&goalsStatusFilter, "status", "", "filter by goal status (identified, approved, rejected, completed, failed); empty lists all")
	goalsCmd.AddCommand(goalsListCmd)
	goalsCmd.AddCommand(goalsGetCmd)
	rootCmd.AddCommand(goalsCmd)
}

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Inspect identified, approved, and rejected goals",
}

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		defer d.close()

		goals, err := d.st.ListGoals(model.GoalStatus(goalsStatusFilter))
		if err != nil {
			return err
		}
		return printJSON(goals)
	},
}

var goalsGetCmd = &cobra.Command{
	Use:   "get <goal-id>",
	Short: "Show one goal by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		defer d.close()

		goal, err := d.st.GetGoal(args[0])
		if err != nil {
			return err
		}
		return printJSON(goal)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("autonomy-core: encode output: %w", err)
	}
	return nil
}
