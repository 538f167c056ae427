package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/model"
)

const goalColumns = `id, title, description, goal_type, status, base_impact_score,
	adjustment_factor, adjusted_impact_score, estimated_cost_usd, budget_limit_usd,
	approved_by, approved_at, approval_notes, learn_from, baseline_captured,
	baseline_captured_at, outcome_measured_at, effectiveness_score, metadata,
	created_at, updated_at`

// CreateGoal inserts a new goal in the `identified` state. If g.ID is
// empty one is generated.
func (s *Store) CreateGoal(g *model.Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = model.GoalIdentified
	}
	if g.AdjustmentFactor == 0 {
		g.AdjustmentFactor = 1.0
	}
	metaJSON, err := marshalJSON(g.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal goal metadata: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO goals (id, title, description, goal_type, status, base_impact_score,
			adjustment_factor, adjusted_impact_score, estimated_cost_usd, budget_limit_usd,
			learn_from, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Title, g.Description, string(g.GoalType), string(g.Status), g.BaseImpactScore,
		g.AdjustmentFactor, g.AdjustedImpactScore, g.EstimatedCostUSD, g.BudgetLimitUSD,
		g.LearnFrom, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("store: create goal: %w", err)
	}
	return nil
}

func scanGoal(row interface{ Scan(...any) error }) (*model.Goal, error) {
	var g model.Goal
	var goalType, status string
	var approvedAt, baselineCapturedAt, outcomeMeasuredAt sql.NullTime
	var effectiveness sql.NullFloat64
	var metaJSON string

	err := row.Scan(
		&g.ID, &g.Title, &g.Description, &goalType, &status, &g.BaseImpactScore,
		&g.AdjustmentFactor, &g.AdjustedImpactScore, &g.EstimatedCostUSD, &g.BudgetLimitUSD,
		&g.ApprovedBy, &approvedAt, &g.ApprovalNotes, &g.LearnFrom, &g.BaselineCaptured,
		&baselineCapturedAt, &outcomeMeasuredAt, &effectiveness, &metaJSON,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.GoalType = model.GoalType(goalType)
	g.Status = model.GoalStatus(status)
	g.ApprovedAt = fromNullTime(approvedAt)
	g.BaselineCapturedAt = fromNullTime(baselineCapturedAt)
	g.OutcomeMeasuredAt = fromNullTime(outcomeMeasuredAt)
	g.EffectivenessScore = fromNullFloat(effectiveness)
	meta, err := unmarshalJSON(metaJSON)
	if err != nil {
		return nil, err
	}
	g.Metadata = meta
	return &g, nil
}

// GetGoal retrieves a goal by id.
func (s *Store) GetGoal(id string) (*model.Goal, error) {
	row := s.db.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerr.New(coreerr.NotFound, "goal not found: "+id)
		}
		return nil, fmt.Errorf("store: get goal: %w", err)
	}
	return g, nil
}

// ListGoals returns goals filtered by status, or all goals if status is "".
func (s *Store) ListGoals(status model.GoalStatus) ([]*model.Goal, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(`SELECT ` + goalColumns + ` FROM goals ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(`SELECT `+goalColumns+` FROM goals WHERE status = ? ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("store: list goals: %w", err)
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

// UpdateAdjustedImpact updates the feedback-derived scoring fields for a
// goal still in `identified`, used by the Goal Generator after scoring.
func (s *Store) UpdateAdjustedImpact(id string, adjustmentFactor, adjustedImpact float64) error {
	_, err := s.db.Exec(`
		UPDATE goals SET adjustment_factor = ?, adjusted_impact_score = ?, updated_at = datetime('now')
		WHERE id = ?`, adjustmentFactor, adjustedImpact, id)
	if err != nil {
		return fmt.Errorf("store: update adjusted impact: %w", err)
	}
	return nil
}

// MarkGoalTerminal sets a goal's status to completed or failed, used by
// the Project/Task Engine when the owning project finishes.
func (s *Store) MarkGoalTerminal(id string, status model.GoalStatus) error {
	if status != model.GoalCompleted && status != model.GoalFailed {
		return fmt.Errorf("store: mark goal terminal: invalid status %q", status)
	}
	_, err := s.db.Exec(`UPDATE goals SET status = ?, updated_at = datetime('now') WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: mark goal terminal: %w", err)
	}
	return nil
}

// touchGoalUpdated bumps updated_at; used internally after row mutation
// helpers that don't already do it.
func touchGoalUpdated(tx *sql.Tx, id string, at time.Time) error {
	_, err := tx.Exec(`UPDATE goals SET updated_at = ? WHERE id = ?`, at, id)
	return err
}
