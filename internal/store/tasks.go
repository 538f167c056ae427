package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/graph"
	"github.com/fablab/autonomy-core/internal/model"
)

const taskColumns = `id, project_id, task_type, status, priority, project_critical,
	estimated_cost_usd, actual_cost_usd, payload, result, attempt_count, last_error,
	created_at, started_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var status, priority, payloadJSON, resultJSON string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.ProjectID, &t.TaskType, &status, &priority, &t.ProjectCrit,
		&t.EstimatedCost, &t.ActualCost, &payloadJSON, &resultJSON, &t.AttemptCount, &t.LastError,
		&t.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.Priority(priority)
	t.StartedAt = fromNullTime(startedAt)
	t.CompletedAt = fromNullTime(completedAt)

	payload, err := unmarshalJSON(payloadJSON)
	if err != nil {
		return nil, err
	}
	t.Payload = payload
	result, err := unmarshalJSON(resultJSON)
	if err != nil {
		return nil, err
	}
	t.Result = result
	return &t, nil
}

func (s *Store) attachDeps(tasks []*model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		t.DependsOn = nil
		t.StrictDeps = map[string]bool{}
		byID[t.ID] = t
	}
	rows, err := s.db.Query(`SELECT task_id, depends_on_id, strict FROM task_deps WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)`,
		tasks[0].ProjectID)
	if err != nil {
		return fmt.Errorf("store: load task deps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, dep string
		var strict bool
		if err := rows.Scan(&taskID, &dep, &strict); err != nil {
			return err
		}
		t, ok := byID[taskID]
		if !ok {
			continue
		}
		t.DependsOn = append(t.DependsOn, dep)
		t.StrictDeps[dep] = strict
	}
	return rows.Err()
}

// GetTask retrieves a task by id, including its dependency edges.
func (s *Store) GetTask(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, coreerr.New(coreerr.NotFound, "task not found: "+id)
		}
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	if err := s.attachDeps([]*model.Task{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasksByProject returns every task belonging to a project, deps attached.
func (s *Store) ListTasksByProject(projectID string) ([]*model.Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachDeps(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadyTasksAcrossProjects returns every task in the ready state across
// all projects (the project's own status is not checked), in dispatch
// order, for the executor's dequeue loop.
func (s *Store) ReadyTasksAcrossProjects() ([]*model.Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = 'ready' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: ready tasks: %w", err)
	}
	defer rows.Close()

	byProject := map[string][]*model.Task{}
	var all []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan ready task: %w", err)
		}
		byProject[t.ProjectID] = append(byProject[t.ProjectID], t)
		all = append(all, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, ts := range byProject {
		if err := s.attachDeps(ts); err != nil {
			return nil, err
		}
	}

	plain := make([]model.Task, len(all))
	for i, t := range all {
		plain[i] = *t
	}
	ordered := graph.DispatchOrder(plain)
	out := make([]*model.Task, len(ordered))
	byID := make(map[string]*model.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}
	for i, t := range ordered {
		out[i] = byID[t.ID]
	}
	return out, nil
}

// StartTask transitions a ready task to running, recording the attempt.
func (s *Store) StartTask(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = 'running', started_at = datetime('now'), attempt_count = attempt_count + 1
		WHERE id = ? AND status IN ('ready', 'pending')`, id)
	if err != nil {
		return fmt.Errorf("store: start task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.InvalidState, "task not startable: "+id)
	}
	return nil
}

// RetryTask returns a running task to ready after a retryable failure,
// recording the error without marking any terminal state. The executor
// calls this instead of CompleteTask when attempt_count is still within
// the configured retry budget.
func (s *Store) RetryTask(id, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = 'ready', last_error = ?
		WHERE id = ? AND status = 'running'`, lastError, id)
	if err != nil {
		return fmt.Errorf("store: retry task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.InvalidState, "task not retryable: "+id)
	}
	return nil
}

// CompleteTask records a terminal task outcome and recomputes readiness
// for every task that depends on it, inside one transaction. When a
// project-critical task fails, the whole project is marked failed.
func (s *Store) CompleteTask(id string, outcome model.TaskOutcome) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: complete task: begin: %w", err)
	}
	defer tx.Rollback()

	var projectID string
	var projectCritical bool
	if err := tx.QueryRow(`SELECT project_id, project_critical FROM tasks WHERE id = ?`, id).
		Scan(&projectID, &projectCritical); err != nil {
		if err == sql.ErrNoRows {
			return coreerr.New(coreerr.NotFound, "task not found: "+id)
		}
		return fmt.Errorf("store: complete task: lookup: %w", err)
	}

	resultJSON, err := marshalJSON(outcome.Result)
	if err != nil {
		return fmt.Errorf("store: complete task: marshal result: %w", err)
	}
	lastErr := ""
	if outcome.Err != nil {
		lastErr = outcome.Err.Error()
	}
	if _, err := tx.Exec(`
		UPDATE tasks SET status = ?, result = ?, actual_cost_usd = actual_cost_usd + ?,
			last_error = ?, completed_at = datetime('now')
		WHERE id = ?`, string(outcome.Status), resultJSON, outcome.CostUSD, lastErr, id); err != nil {
		return fmt.Errorf("store: complete task: update: %w", err)
	}

	if outcome.Status == model.TaskFailed && projectCritical {
		if _, err := tx.Exec(`UPDATE projects SET status = 'failed' WHERE id = ? AND status != 'failed'`, projectID); err != nil {
			return fmt.Errorf("store: complete task: fail project: %w", err)
		}
		if _, err := tx.Exec(`UPDATE goals SET status = 'failed', updated_at = datetime('now')
			WHERE id = (SELECT goal_id FROM projects WHERE id = ?)`, projectID); err != nil {
			return fmt.Errorf("store: complete task: fail goal: %w", err)
		}
	}

	if err := recomputeReadiness(tx, projectID); err != nil {
		return err
	}

	if err := maybeCompleteProject(tx, projectID); err != nil {
		return err
	}

	return tx.Commit()
}

// recomputeReadiness promotes pending tasks in the project whose
// dependencies are all satisfied (completed, or skipped/failed when the
// edge isn't strict) to ready. A pending task with a strict dependency
// that landed on skipped or failed can never satisfy that edge, so it
// is itself resolved to failed rather than left pending forever — that
// keeps a non-critical task exhausting its retries from wedging every
// downstream task, and in turn the project, in a permanently
// unfinished state. Resolution runs to a fixpoint within one call so a
// multi-step chain behind a single failure collapses in one pass
// instead of trickling out one CompleteTask call at a time.
func recomputeReadiness(tx *sql.Tx, projectID string) error {
	rows, err := tx.Query(`SELECT id, status FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: recompute readiness: load tasks: %w", err)
	}
	statuses := map[string]model.TaskStatus{}
	var pending []string
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return err
		}
		statuses[id] = model.TaskStatus(status)
		if status == string(model.TaskPending) {
			pending = append(pending, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	depRows, err := tx.Query(`SELECT task_id, depends_on_id, strict FROM task_deps WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)`, projectID)
	if err != nil {
		return fmt.Errorf("store: recompute readiness: load deps: %w", err)
	}
	deps := map[string]map[string]bool{}
	for depRows.Next() {
		var taskID, dep string
		var strict bool
		if err := depRows.Scan(&taskID, &dep, &strict); err != nil {
			depRows.Close()
			return err
		}
		if deps[taskID] == nil {
			deps[taskID] = map[string]bool{}
		}
		deps[taskID][dep] = strict
	}
	depRows.Close()
	if err := depRows.Err(); err != nil {
		return err
	}

	resolved := map[string]model.TaskStatus{}
	for changed := true; changed; {
		changed = false
		for _, id := range pending {
			if statuses[id] != model.TaskPending {
				continue // already resolved to ready/failed earlier in this fixpoint
			}
			ready, blocked := true, false
			for dep, strict := range deps[id] {
				switch statuses[dep] {
				case model.TaskCompleted:
					continue
				case model.TaskSkipped, model.TaskFailed:
					if strict {
						ready, blocked = false, true
					}
				default:
					ready = false
				}
			}
			switch {
			case blocked:
				statuses[id], resolved[id] = model.TaskFailed, model.TaskFailed
				changed = true
			case ready:
				statuses[id], resolved[id] = model.TaskReady, model.TaskReady
				changed = true
			}
		}
	}

	for id, status := range resolved {
		switch status {
		case model.TaskReady:
			if _, err := tx.Exec(`UPDATE tasks SET status = 'ready' WHERE id = ? AND status = 'pending'`, id); err != nil {
				return fmt.Errorf("store: recompute readiness: promote %s: %w", id, err)
			}
		case model.TaskFailed:
			if _, err := tx.Exec(`
				UPDATE tasks SET status = 'failed', last_error = ?, completed_at = datetime('now')
				WHERE id = ? AND status = 'pending'`,
				"blocked: a required upstream dependency did not complete", id); err != nil {
				return fmt.Errorf("store: recompute readiness: block %s: %w", id, err)
			}
		}
	}
	return nil
}

// maybeCompleteProject marks a project completed once every task in it
// has reached a terminal state (completed or skipped) and none failed.
func maybeCompleteProject(tx *sql.Tx, projectID string) error {
	var status string
	if err := tx.QueryRow(`SELECT status FROM projects WHERE id = ?`, projectID).Scan(&status); err != nil {
		return fmt.Errorf("store: maybe complete project: lookup: %w", err)
	}
	if status != string(model.ProjectActive) && status != string(model.ProjectProposed) {
		return nil
	}

	var outstanding, failed int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM tasks WHERE project_id = ? AND status NOT IN ('completed', 'skipped', 'failed')`, projectID).
		Scan(&outstanding); err != nil {
		return err
	}
	if err := tx.QueryRow(`SELECT COUNT(*) FROM tasks WHERE project_id = ? AND status = 'failed'`, projectID).
		Scan(&failed); err != nil {
		return err
	}
	if outstanding > 0 {
		return nil
	}
	goalStatus := model.GoalCompleted
	projectStatus := model.ProjectCompleted
	if failed > 0 {
		goalStatus = model.GoalFailed
		projectStatus = model.ProjectFailed
	}

	var goalID string
	var allocated, spent float64
	var createdAt time.Time
	if err := tx.QueryRow(`SELECT goal_id, allocated_budget_usd, spent_budget_usd, created_at FROM projects WHERE id = ?`, projectID).
		Scan(&goalID, &allocated, &spent, &createdAt); err != nil {
		return err
	}
	var actualCost float64
	if err := tx.QueryRow(`SELECT COALESCE(SUM(actual_cost_usd), 0) FROM tasks WHERE project_id = ?`, projectID).Scan(&actualCost); err != nil {
		return err
	}
	duration := time.Since(createdAt).Hours()

	if _, err := tx.Exec(`
		UPDATE projects SET status = ?, actual_cost_usd = ?, actual_duration_hours = ?, completed_at = datetime('now')
		WHERE id = ?`, string(projectStatus), actualCost, duration, projectID); err != nil {
		return fmt.Errorf("store: maybe complete project: update: %w", err)
	}
	if _, err := tx.Exec(`UPDATE goals SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		string(goalStatus), goalID); err != nil {
		return fmt.Errorf("store: maybe complete project: update goal: %w", err)
	}
	return nil
}

// SkipTask marks a task skipped without running it (e.g. a non-critical
// task whose optional upstream failed), and recomputes readiness.
func (s *Store) SkipTask(id, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: skip task: begin: %w", err)
	}
	defer tx.Rollback()

	var projectID string
	if err := tx.QueryRow(`SELECT project_id FROM tasks WHERE id = ?`, id).Scan(&projectID); err != nil {
		if err == sql.ErrNoRows {
			return coreerr.New(coreerr.NotFound, "task not found: "+id)
		}
		return err
	}
	if _, err := tx.Exec(`UPDATE tasks SET status = 'skipped', last_error = ?, completed_at = datetime('now') WHERE id = ?`,
		reason, id); err != nil {
		return fmt.Errorf("store: skip task: update: %w", err)
	}
	if err := recomputeReadiness(tx, projectID); err != nil {
		return err
	}
	if err := maybeCompleteProject(tx, projectID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordCost appends an idempotent budget ledger entry and, for entries
// tied to a project, applies it against that project's allocation. A
// cost that would push the project over its allocated budget aborts
// with budget_exceeded and the ledger row is not written. Replaying the
// same idempotency key is a no-op returning nil.
func (s *Store) RecordCost(entry model.BudgetLedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: record cost: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM budget_ledger WHERE idempotency_key = ?`, entry.IdempotencyKey).Scan(&exists); err != nil {
		return fmt.Errorf("store: record cost: idempotency check: %w", err)
	}
	if exists > 0 {
		return tx.Commit()
	}

	if entry.ProjectID != "" {
		var allocated, spent float64
		if err := tx.QueryRow(`SELECT allocated_budget_usd, spent_budget_usd FROM projects WHERE id = ?`, entry.ProjectID).
			Scan(&allocated, &spent); err != nil {
			if err == sql.ErrNoRows {
				return coreerr.New(coreerr.NotFound, "project not found: "+entry.ProjectID)
			}
			return fmt.Errorf("store: record cost: load project: %w", err)
		}
		if spent+entry.AmountUSD > allocated {
			return coreerr.New(coreerr.BudgetExceeded, fmt.Sprintf(
				"project %s: spending %.4f would exceed allocation %.4f (already spent %.4f)",
				entry.ProjectID, entry.AmountUSD, allocated, spent))
		}
		if _, err := tx.Exec(`UPDATE projects SET spent_budget_usd = spent_budget_usd + ? WHERE id = ?`,
			entry.AmountUSD, entry.ProjectID); err != nil {
			return fmt.Errorf("store: record cost: update project spend: %w", err)
		}
	}

	if entry.ID == "" {
		entry.ID = entry.IdempotencyKey
	}
	if _, err := tx.Exec(`
		INSERT INTO budget_ledger (id, category, amount_usd, goal_id, project_id, task_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Category), entry.AmountUSD, entry.GoalID, entry.ProjectID, entry.TaskID, entry.IdempotencyKey,
	); err != nil {
		return fmt.Errorf("store: record cost: insert: %w", err)
	}

	return tx.Commit()
}
