package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/graph"
	"github.com/fablab/autonomy-core/internal/model"
)

// TaskSpec describes one task to instantiate when a goal is approved,
// supplied by the Project/Task Engine's per-goal-type template.
type TaskSpec struct {
	ID            string
	TaskType      string
	Priority      model.Priority
	DependsOn     []string
	Strict        map[string]bool
	ProjectCrit   bool
	EstimatedCost float64
	Payload       map[string]any
}

// ApproveGoal transitions a goal from identified to approved, creates
// its project and template tasks, records the approval, and captures
// the outcome baseline, all inside one transaction. Approving an
// already-approved goal is idempotent: it returns the existing project
// without creating a second one.
func (s *Store) ApproveGoal(goalID, approver, notes string, tasks []TaskSpec, baselineMetrics map[string]any) (*model.Project, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: approve goal: begin: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRow(`SELECT status FROM goals WHERE id = ?`, goalID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerr.New(coreerr.NotFound, "goal not found: "+goalID)
		}
		return nil, fmt.Errorf("store: approve goal: lookup: %w", err)
	}

	if status == string(model.GoalApproved) {
		existing, err := getProjectByGoalTx(tx, goalID)
		if err != nil {
			return nil, err
		}
		return existing, tx.Commit()
	}
	if status != string(model.GoalIdentified) {
		return nil, coreerr.New(coreerr.InvalidState, fmt.Sprintf("goal %s is %s, cannot approve", goalID, status))
	}

	nodes := make([]string, len(tasks))
	edges := make(map[string][]string, len(tasks))
	for i, t := range tasks {
		nodes[i] = t.ID
		edges[t.ID] = t.DependsOn
	}
	if err := graph.Validate(nodes, edges); err != nil {
		return nil, coreerr.Wrap(coreerr.DependencyCycle, "task template has invalid dependencies", err)
	}

	var budgetLimit float64
	if err := tx.QueryRow(`SELECT budget_limit_usd FROM goals WHERE id = ?`, goalID).Scan(&budgetLimit); err != nil {
		return nil, fmt.Errorf("store: approve goal: budget lookup: %w", err)
	}

	now := time.Now().UTC()
	projectID := uuid.NewString()
	if _, err := tx.Exec(`
		INSERT INTO projects (id, goal_id, status, allocated_budget_usd, spent_budget_usd, created_at)
		VALUES (?, ?, 'proposed', ?, 0, ?)`, projectID, goalID, budgetLimit, now); err != nil {
		return nil, fmt.Errorf("store: approve goal: insert project: %w", err)
	}

	readySet := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		readySet[t.ID] = len(t.DependsOn) == 0
	}
	for _, t := range tasks {
		payloadJSON, err := marshalJSON(t.Payload)
		if err != nil {
			return nil, fmt.Errorf("store: approve goal: marshal payload: %w", err)
		}
		status := model.TaskPending
		if readySet[t.ID] {
			status = model.TaskReady
		}
		priority := t.Priority
		if priority == "" {
			priority = model.PriorityMedium
		}
		if _, err := tx.Exec(`
			INSERT INTO tasks (id, project_id, task_type, status, priority, project_critical,
				estimated_cost_usd, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, projectID, t.TaskType, string(status), string(priority), t.ProjectCrit,
			t.EstimatedCost, payloadJSON, now,
		); err != nil {
			return nil, fmt.Errorf("store: approve goal: insert task %s: %w", t.ID, err)
		}
		for _, dep := range t.DependsOn {
			strict := t.Strict != nil && t.Strict[dep]
			if _, err := tx.Exec(`INSERT INTO task_deps (task_id, depends_on_id, strict) VALUES (?, ?, ?)`,
				t.ID, dep, strict); err != nil {
				return nil, fmt.Errorf("store: approve goal: insert dep: %w", err)
			}
		}
	}

	if _, err := tx.Exec(`
		UPDATE goals SET status = 'approved', approved_by = ?, approved_at = ?, approval_notes = ?,
			baseline_captured = 1, baseline_captured_at = ?, updated_at = ?
		WHERE id = ?`, approver, now, notes, now, now, goalID); err != nil {
		return nil, fmt.Errorf("store: approve goal: update goal: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO approval_records (id, goal_id, approver, decision, notes, created_at)
		VALUES (?, ?, ?, 'approved', ?, ?)`, uuid.NewString(), goalID, approver, notes, now); err != nil {
		return nil, fmt.Errorf("store: approve goal: insert approval record: %w", err)
	}

	baselineJSON, err := marshalJSON(baselineMetrics)
	if err != nil {
		return nil, fmt.Errorf("store: approve goal: marshal baseline: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO goal_outcomes (id, goal_id, baseline_date, baseline_metrics)
		VALUES (?, ?, ?, ?)`, uuid.NewString(), goalID, now, baselineJSON); err != nil {
		return nil, fmt.Errorf("store: approve goal: insert baseline outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: approve goal: commit: %w", err)
	}

	return &model.Project{
		ID: projectID, GoalID: goalID, Status: model.ProjectProposed,
		AllocatedBudgetUSD: budgetLimit, CreatedAt: now,
	}, nil
}

// RejectGoal transitions a goal from identified to rejected. Rejecting
// anything not currently identified (including an already-rejected
// goal) fails with invalid_state.
func (s *Store) RejectGoal(goalID, approver, notes string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: reject goal: begin: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRow(`SELECT status FROM goals WHERE id = ?`, goalID).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return coreerr.New(coreerr.NotFound, "goal not found: "+goalID)
		}
		return fmt.Errorf("store: reject goal: lookup: %w", err)
	}
	if status != string(model.GoalIdentified) {
		return coreerr.New(coreerr.InvalidState, fmt.Sprintf("goal %s is %s, cannot reject", goalID, status))
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE goals SET status = 'rejected', approval_notes = ?, updated_at = ? WHERE id = ?`,
		notes, now, goalID); err != nil {
		return fmt.Errorf("store: reject goal: update: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO approval_records (id, goal_id, approver, decision, notes, created_at)
		VALUES (?, ?, ?, 'rejected', ?, ?)`, uuid.NewString(), goalID, approver, notes, now); err != nil {
		return fmt.Errorf("store: reject goal: insert approval record: %w", err)
	}
	return tx.Commit()
}

// ListPendingGoals returns goals in the identified state, awaiting a
// recorded approval or rejection.
func (s *Store) ListPendingGoals() ([]*model.Goal, error) {
	return s.ListGoals(model.GoalIdentified)
}

func getProjectByGoalTx(tx *sql.Tx, goalID string) (*model.Project, error) {
	row := tx.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE goal_id = ?`, goalID)
	p, err := scanProject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: approve goal: goal %s marked approved but has no project", goalID)
		}
		return nil, fmt.Errorf("store: approve goal: lookup existing project: %w", err)
	}
	return p, nil
}
