package store

import "time"

// FailureCluster summarizes every print in the lookback window that
// failed for the same reason.
type FailureCluster struct {
	Reason             string
	Count              int
	MeanCostPerFailure float64
}

// RecordPrintOutcome logs one completed print job's result, for later
// clustering by the Goal Generator's print-failure strategy.
// failureReason is empty for a successful print.
func (s *Store) RecordPrintOutcome(failureReason string, costUSD float64) error {
	_, err := s.db.Exec(`INSERT INTO print_outcomes (failure_reason, cost_usd, recorded_at) VALUES (?, ?, ?)`,
		failureReason, costUSD, time.Now().UTC())
	return err
}

// FailureClusters groups print outcomes over the trailing sinceDays by
// failure reason, along with the total number of prints observed in
// that window (successes and failures alike) needed to compute
// cluster frequency.
func (s *Store) FailureClusters(sinceDays int) ([]FailureCluster, int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -sinceDays)

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM print_outcomes WHERE recorded_at >= ?`, cutoff).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT failure_reason, COUNT(*), AVG(cost_usd)
		FROM print_outcomes
		WHERE recorded_at >= ? AND failure_reason != ''
		GROUP BY failure_reason`, cutoff)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clusters []FailureCluster
	for rows.Next() {
		var c FailureCluster
		if err := rows.Scan(&c.Reason, &c.Count, &c.MeanCostPerFailure); err != nil {
			return nil, 0, err
		}
		clusters = append(clusters, c)
	}
	return clusters, total, rows.Err()
}
