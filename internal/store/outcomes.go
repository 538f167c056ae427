package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/model"
)

func scanOutcome(row interface{ Scan(...any) error }) (*model.GoalOutcome, error) {
	var o model.GoalOutcome
	var measurementDate sql.NullTime
	var impact, roi, adoption, quality, effectiveness sql.NullFloat64
	var baselineJSON, outcomeJSON string

	err := row.Scan(
		&o.ID, &o.GoalID, &o.BaselineDate, &measurementDate, &baselineJSON, &outcomeJSON,
		&impact, &roi, &adoption, &quality, &effectiveness,
	)
	if err != nil {
		return nil, err
	}
	o.MeasurementDate = fromNullTime(measurementDate)
	o.Impact = fromNullFloat(impact)
	o.ROI = fromNullFloat(roi)
	o.Adoption = fromNullFloat(adoption)
	o.Quality = fromNullFloat(quality)
	o.EffectivenessScore = fromNullFloat(effectiveness)

	baseline, err := unmarshalJSON(baselineJSON)
	if err != nil {
		return nil, err
	}
	o.BaselineMetrics = baseline
	out, err := unmarshalJSON(outcomeJSON)
	if err != nil {
		return nil, err
	}
	o.OutcomeMetrics = out
	return &o, nil
}

const outcomeColumns = `id, goal_id, baseline_date, measurement_date, baseline_metrics,
	outcome_metrics, impact, roi, adoption, quality, effectiveness_score`

// GetOutcome retrieves a goal's baseline/measurement row.
func (s *Store) GetOutcome(goalID string) (*model.GoalOutcome, error) {
	row := s.db.QueryRow(`SELECT `+outcomeColumns+` FROM goal_outcomes WHERE goal_id = ?`, goalID)
	o, err := scanOutcome(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerr.New(coreerr.NotFound, "outcome baseline not found for goal: "+goalID)
		}
		return nil, fmt.Errorf("store: get outcome: %w", err)
	}
	return o, nil
}

// GoalsDueForMeasurement returns approved-and-completed goals whose
// baseline was captured at least windowDays ago and whose outcome
// hasn't been measured yet.
func (s *Store) GoalsDueForMeasurement(windowDays int) ([]*model.Goal, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := s.db.Query(`
		SELECT `+goalColumns+` FROM goals
		WHERE status = 'completed' AND learn_from = 1 AND baseline_captured = 1 AND outcome_measured_at IS NULL
			AND baseline_captured_at <= ?
		ORDER BY baseline_captured_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: goals due for measurement: %w", err)
	}
	defer rows.Close()

	var out []*model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MeasureOutcome records the post-window measurement and effectiveness
// score for a goal. Idempotent: a goal already measured (measurement_date
// set) is left untouched and returns nil without error.
func (s *Store) MeasureOutcome(goalID string, outcomeMetrics map[string]any, impact, roi, adoption, quality, effectiveness float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: measure outcome: begin: %w", err)
	}
	defer tx.Rollback()

	var alreadyMeasured sql.NullTime
	if err := tx.QueryRow(`SELECT measurement_date FROM goal_outcomes WHERE goal_id = ?`, goalID).Scan(&alreadyMeasured); err != nil {
		if err == sql.ErrNoRows {
			return coreerr.New(coreerr.NotFound, "outcome baseline not found for goal: "+goalID)
		}
		return fmt.Errorf("store: measure outcome: lookup: %w", err)
	}
	if alreadyMeasured.Valid {
		return tx.Commit()
	}

	outcomeJSON, err := marshalJSON(outcomeMetrics)
	if err != nil {
		return fmt.Errorf("store: measure outcome: marshal: %w", err)
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE goal_outcomes SET measurement_date = ?, outcome_metrics = ?, impact = ?, roi = ?,
			adoption = ?, quality = ?, effectiveness_score = ?
		WHERE goal_id = ?`, now, outcomeJSON, impact, roi, adoption, quality, effectiveness, goalID); err != nil {
		return fmt.Errorf("store: measure outcome: update: %w", err)
	}
	if _, err := tx.Exec(`UPDATE goals SET outcome_measured_at = ?, effectiveness_score = ?, updated_at = ? WHERE id = ?`,
		now, effectiveness, now, goalID); err != nil {
		return fmt.Errorf("store: measure outcome: update goal: %w", err)
	}

	return tx.Commit()
}

// EffectivenessHistory returns the effectiveness scores recorded for
// goals of a given type, most recent first, for the feedback loop's
// experience-weighted adjustment.
func (s *Store) EffectivenessHistory(goalType model.GoalType, limit int) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT go.effectiveness_score FROM goal_outcomes go
		JOIN goals g ON g.id = go.goal_id
		WHERE g.goal_type = ? AND go.effectiveness_score IS NOT NULL
		ORDER BY go.measurement_date DESC LIMIT ?`, string(goalType), limit)
	if err != nil {
		return nil, fmt.Errorf("store: effectiveness history: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
