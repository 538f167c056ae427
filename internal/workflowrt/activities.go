package workflowrt

import (
	"context"
	"fmt"

	"github.com/fablab/autonomy-core/internal/executor"
	"github.com/fablab/autonomy-core/internal/model"
)

// Store is the subset of *store.Store the workflow activities depend on.
type Store interface {
	GetTask(id string) (*model.Task, error)
	ListTasksByProject(projectID string) ([]*model.Task, error)
	StartTask(id string) error
	RetryTask(id, lastError string) error
	CompleteTask(id string, outcome model.TaskOutcome) error
	RecordCost(entry model.BudgetLedgerEntry) error
	GetProject(id string) (*model.Project, error)
	CompleteProject(id string, status model.ProjectStatus, actualCost, durationHours float64) error
}

// Activities holds the dependencies every workflowrt activity method
// needs. Handlers is the same task-type registry internal/executor
// uses — a handler is registered once and exercised from whichever
// execution path (poll loop or durable workflow) picks up the task.
type Activities struct {
	Store    Store
	Handlers map[string]executor.Handler
}

// ListReadyTasksActivity returns the project's tasks currently in the
// ready state. Dependency bookkeeping (which tasks become ready when
// one completes) lives in Store.CompleteTask; this activity only
// reads the result of that bookkeeping.
func (a *Activities) ListReadyTasksActivity(ctx context.Context, projectID string) ([]*model.Task, error) {
	tasks, err := a.Store.ListTasksByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("workflowrt: list tasks: %w", err)
	}
	var ready []*model.Task
	for _, t := range tasks {
		if t.Status == model.TaskReady {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// ProjectStatusActivity reports the project's current terminal/non-terminal status.
func (a *Activities) ProjectStatusActivity(ctx context.Context, projectID string) (*model.Project, error) {
	return a.Store.GetProject(projectID)
}

// CompleteProjectActivity marks a project terminal — used on the
// reject path, where no task ever ran.
func (a *Activities) CompleteProjectActivity(ctx context.Context, projectID string, status model.ProjectStatus) error {
	return a.Store.CompleteProject(projectID, status, 0, 0)
}

// TaskActivity runs one task's registered handler to completion and
// persists the outcome. Neither this activity nor Temporal retries it
// (its RetryPolicy allows one attempt): a retryable failure is returned
// to ready through Store.RetryTask, and ProjectWorkflow runs it again
// when it next lists ready tasks, with no backoff delay.
func (a *Activities) TaskActivity(ctx context.Context, taskID string) (TaskResult, error) {
	task, err := a.Store.GetTask(taskID)
	if err != nil {
		return TaskResult{}, fmt.Errorf("workflowrt: get task: %w", err)
	}

	handler, ok := a.Handlers[task.TaskType]
	if !ok {
		return TaskResult{}, fmt.Errorf("workflowrt: no handler registered for task type %q", task.TaskType)
	}

	if err := a.Store.StartTask(task.ID); err != nil {
		return TaskResult{}, fmt.Errorf("workflowrt: start task: %w", err)
	}

	outcome := handler(ctx, task)

	if outcome.CostUSD > 0 {
		if err := a.Store.RecordCost(model.BudgetLedgerEntry{
			Category:  model.CategoryAutonomous,
			AmountUSD: outcome.CostUSD,
			ProjectID: task.ProjectID,
			TaskID:    task.ID,
		}); err != nil {
			return TaskResult{}, fmt.Errorf("workflowrt: record cost: %w", err)
		}
	}

	result := TaskResult{TaskID: task.ID, Status: outcome.Status, Retryable: outcome.Retryable, CostUSD: outcome.CostUSD}
	if outcome.Err != nil {
		result.ErrorMessage = outcome.Err.Error()
	}

	if outcome.Status != model.TaskCompleted && outcome.Retryable {
		if err := a.Store.RetryTask(task.ID, result.ErrorMessage); err != nil {
			return TaskResult{}, fmt.Errorf("workflowrt: retry task: %w", err)
		}
		return result, nil
	}

	if err := a.Store.CompleteTask(task.ID, outcome); err != nil {
		return TaskResult{}, fmt.Errorf("workflowrt: complete task: %w", err)
	}
	return result, nil
}
