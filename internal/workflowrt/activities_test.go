package workflowrt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/executor"
	"github.com/fablab/autonomy-core/internal/model"
)

type fakeStore struct {
	tasks             map[string]*model.Task
	byProject         map[string][]*model.Task
	projects          map[string]*model.Project
	startErr          error
	completeErr       error
	retryErr          error
	completedOutcomes map[string]model.TaskOutcome
	retried           map[string]string
	costs             []model.BudgetLedgerEntry
	completedProjects map[string]model.ProjectStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:             map[string]*model.Task{},
		byProject:         map[string][]*model.Task{},
		projects:          map[string]*model.Project{},
		completedOutcomes: map[string]model.TaskOutcome{},
		retried:           map[string]string{},
		completedProjects: map[string]model.ProjectStatus{},
	}
}

func (f *fakeStore) GetTask(id string) (*model.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return t, nil
}

func (f *fakeStore) ListTasksByProject(projectID string) ([]*model.Task, error) {
	return f.byProject[projectID], nil
}

func (f *fakeStore) StartTask(id string) error { return f.startErr }

func (f *fakeStore) RetryTask(id, lastError string) error {
	f.retried[id] = lastError
	return f.retryErr
}

func (f *fakeStore) CompleteTask(id string, outcome model.TaskOutcome) error {
	f.completedOutcomes[id] = outcome
	return f.completeErr
}

func (f *fakeStore) RecordCost(entry model.BudgetLedgerEntry) error {
	f.costs = append(f.costs, entry)
	return nil
}

func (f *fakeStore) GetProject(id string) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (f *fakeStore) CompleteProject(id string, status model.ProjectStatus, actualCost, durationHours float64) error {
	f.completedProjects[id] = status
	return nil
}

func TestTaskActivityRunsHandlerAndCompletesTask(t *testing.T) {
	st := newFakeStore()
	st.tasks["t1"] = &model.Task{ID: "t1", ProjectID: "p1", TaskType: "noop"}

	a := &Activities{Store: st, Handlers: map[string]executor.Handler{
		"noop": func(ctx context.Context, task *model.Task) model.TaskOutcome {
			return model.TaskOutcome{Status: model.TaskCompleted, CostUSD: 1.5}
		},
	}}

	result, err := a.TaskActivity(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, result.Status)
	require.Contains(t, st.completedOutcomes, "t1")
	require.Len(t, st.costs, 1)
	require.Equal(t, 1.5, st.costs[0].AmountUSD)
}

func TestTaskActivityRetriesRetryableFailureInsteadOfCompleting(t *testing.T) {
	st := newFakeStore()
	st.tasks["t1"] = &model.Task{ID: "t1", ProjectID: "p1", TaskType: "flaky"}

	a := &Activities{Store: st, Handlers: map[string]executor.Handler{
		"flaky": func(ctx context.Context, task *model.Task) model.TaskOutcome {
			return model.TaskOutcome{Status: model.TaskFailed, Err: errors.New("transient"), Retryable: true}
		},
	}}

	result, err := a.TaskActivity(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "transient", result.ErrorMessage)
	require.Contains(t, st.retried, "t1")
	require.NotContains(t, st.completedOutcomes, "t1")
}

func TestTaskActivityErrorsWhenHandlerUnregistered(t *testing.T) {
	st := newFakeStore()
	st.tasks["t1"] = &model.Task{ID: "t1", TaskType: "unknown"}
	a := &Activities{Store: st, Handlers: map[string]executor.Handler{}}

	_, err := a.TaskActivity(context.Background(), "t1")
	require.Error(t, err)
}

func TestListReadyTasksActivityFiltersByStatus(t *testing.T) {
	st := newFakeStore()
	st.byProject["p1"] = []*model.Task{
		{ID: "t1", Status: model.TaskReady},
		{ID: "t2", Status: model.TaskRunning},
		{ID: "t3", Status: model.TaskReady},
	}
	a := &Activities{Store: st}

	ready, err := a.ListReadyTasksActivity(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, ready, 2)
}

func TestCompleteProjectActivityMarksStatus(t *testing.T) {
	st := newFakeStore()
	a := &Activities{Store: st}

	require.NoError(t, a.CompleteProjectActivity(context.Background(), "p1", model.ProjectCancelled))
	require.Equal(t, model.ProjectCancelled, st.completedProjects["p1"])
}
