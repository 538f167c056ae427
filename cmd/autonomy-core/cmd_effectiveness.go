package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fablab/autonomy-core/internal/model"
)

var (
	effGoalType string
	effLimit    int
)

func init() {
	effectivenessCmd.Flags().StringVar(&effGoalType, "goal-type", "", "goal type to report on (research, improvement, optimization, learning, exploration)")
	effectivenessCmd.Flags().IntVar(&effLimit, "limit", 50, "number of most-recent effectiveness scores to sample")
	effectivenessCmd.MarkFlagRequired("goal-type")
	rootCmd.AddCommand(effectivenessCmd)
}

var effectivenessCmd = &cobra.Command{
	Use:   "effectiveness",
	Short: "Report the recorded effectiveness history and mean for a goal type",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		defer d.close()

		scores, err := d.st.EffectivenessHistory(model.GoalType(effGoalType), effLimit)
		if err != nil {
			return err
		}

		var sum float64
		for _, s := range scores {
			sum += s
		}
		mean := 0.0
		if len(scores) > 0 {
			mean = sum / float64(len(scores))
		}

		adjustment, err := d.feedback.Adjust(model.GoalType(effGoalType))
		if err != nil {
			return fmt.Errorf("autonomy-core: feedback adjustment: %w", err)
		}

		return printJSON(map[string]any{
			"goal_type":           effGoalType,
			"sample_count":        len(scores),
			"mean_effectiveness":  mean,
			"feedback_adjustment": adjustment,
		})
	},
}
