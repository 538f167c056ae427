package store

import (
	"database/sql"
	"fmt"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/model"
)

const projectColumns = `id, goal_id, status, allocated_budget_usd, spent_budget_usd,
	actual_cost_usd, actual_duration_hours, created_at, started_at, completed_at`

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	var status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.GoalID, &status, &p.AllocatedBudgetUSD, &p.SpentBudgetUSD,
		&p.ActualCostUSD, &p.ActualDurationHours, &p.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProjectStatus(status)
	p.StartedAt = fromNullTime(startedAt)
	p.CompletedAt = fromNullTime(completedAt)
	return &p, nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(id string) (*model.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerr.New(coreerr.NotFound, "project not found: "+id)
		}
		return nil, fmt.Errorf("store: get project: %w", err)
	}
	return p, nil
}

// GetProjectByGoal retrieves the project created for a given goal.
func (s *Store) GetProjectByGoal(goalID string) (*model.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE goal_id = ?`, goalID)
	p, err := scanProject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerr.New(coreerr.NotFound, "project not found for goal: "+goalID)
		}
		return nil, fmt.Errorf("store: get project by goal: %w", err)
	}
	return p, nil
}

// ListProjects returns projects filtered by status, or all if status is "".
func (s *Store) ListProjects(status model.ProjectStatus) ([]*model.Project, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(`SELECT `+projectColumns+` FROM projects WHERE status = ? ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StartProject marks a proposed project active once its first task begins running.
func (s *Store) StartProject(id string) error {
	res, err := s.db.Exec(`
		UPDATE projects SET status = 'active', started_at = datetime('now')
		WHERE id = ? AND status = 'proposed'`, id)
	if err != nil {
		return fmt.Errorf("store: start project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already active or past it; starting is not idempotent-sensitive like approval
	}
	return nil
}

// CompleteProject finalizes a project's terminal status and duration, and
// propagates the corresponding terminal status to its owning goal.
func (s *Store) CompleteProject(id string, status model.ProjectStatus, actualCost, durationHours float64) error {
	if status != model.ProjectCompleted && status != model.ProjectFailed && status != model.ProjectCancelled {
		return fmt.Errorf("store: complete project: invalid terminal status %q", status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: complete project: begin: %w", err)
	}
	defer tx.Rollback()

	var goalID string
	if err := tx.QueryRow(`SELECT goal_id FROM projects WHERE id = ?`, id).Scan(&goalID); err != nil {
		if err == sql.ErrNoRows {
			return coreerr.New(coreerr.NotFound, "project not found: "+id)
		}
		return fmt.Errorf("store: complete project: lookup: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE projects SET status = ?, actual_cost_usd = ?, actual_duration_hours = ?,
			completed_at = datetime('now')
		WHERE id = ?`, string(status), actualCost, durationHours, id); err != nil {
		return fmt.Errorf("store: complete project: update: %w", err)
	}

	goalStatus := model.GoalCompleted
	if status != model.ProjectCompleted {
		goalStatus = model.GoalFailed
	}
	if _, err := tx.Exec(`UPDATE goals SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		string(goalStatus), goalID); err != nil {
		return fmt.Errorf("store: complete project: update goal: %w", err)
	}

	return tx.Commit()
}
