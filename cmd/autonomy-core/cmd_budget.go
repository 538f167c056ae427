package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fablab/autonomy-core/internal/model"
)

var (
	overrideDate     string
	overrideApprover string
	overrideReason   string
)

func init() {
	overrideBudgetCmd.Flags().StringVar(&overrideDate, "date", "", "calendar day to override, YYYY-MM-DD (defaults to today, scheduler timezone)")
	overrideBudgetCmd.Flags().StringVar(&overrideApprover, "approver", "", "identity of the operator granting the exception")
	overrideBudgetCmd.Flags().StringVar(&overrideReason, "reason", "", "why the daily budget cap is being excepted for this day")
	overrideBudgetCmd.MarkFlagRequired("approver")
	overrideBudgetCmd.MarkFlagRequired("reason")
	rootCmd.AddCommand(overrideBudgetCmd)
}

var overrideBudgetCmd = &cobra.Command{
	Use:   "override-budget",
	Short: "Record an operator-approved exception to the daily autonomous budget cap",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(false)
		if err != nil {
			return err
		}
		defer d.close()

		day := overrideDate
		if day == "" {
			loc, err := loadLocation(d.cfg.Scheduler.Timezone)
			if err != nil {
				return err
			}
			day = time.Now().In(loc).Format("2006-01-02")
		}

		override := &model.BudgetOverride{Date: day, Approver: overrideApprover, Reason: overrideReason}
		if err := d.st.RecordBudgetOverride(override); err != nil {
			return err
		}
		if err := d.st.RecordHealthEvent("budget_override", overrideApprover+": "+overrideReason+" ("+day+")"); err != nil {
			d.log.Warn("autonomy-core.budget_override_audit_log_failed", "error", err)
		}
		return printJSON(map[string]string{"date": day, "approver": overrideApprover, "status": "recorded"})
	},
}
