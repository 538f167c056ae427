package store

import (
	"fmt"
	"time"

	"github.com/fablab/autonomy-core/internal/model"
)

// DailyAutonomousSpend sums autonomous-category ledger entries for the
// given calendar day (UTC), for the resource gate's daily cap check.
func (s *Store) DailyAutonomousSpend(day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var total float64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(amount_usd), 0) FROM budget_ledger
		WHERE category = ? AND occurred_at >= ? AND occurred_at < ?`,
		string(model.CategoryAutonomous), start, end,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: daily autonomous spend: %w", err)
	}
	return total, nil
}

// RecordBudgetOverride logs an operator-approved exception to the daily
// autonomous spend cap for a given day.
func (s *Store) RecordBudgetOverride(o *model.BudgetOverride) error {
	if o.ID == "" {
		o.ID = o.Date + ":" + o.Approver
	}
	_, err := s.db.Exec(`
		INSERT INTO budget_overrides (id, override_date, approver, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, o.ID, o.Date, o.Approver, o.Reason)
	if err != nil {
		return fmt.Errorf("store: record budget override: %w", err)
	}
	return nil
}

// HasBudgetOverride reports whether an override exists for the given
// calendar day (YYYY-MM-DD).
func (s *Store) HasBudgetOverride(day string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM budget_overrides WHERE override_date = ?`, day).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: has budget override: %w", err)
	}
	return count > 0, nil
}
