package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/model"
)

func approveSample(t *testing.T, s *Store) (*model.Goal, *model.Project) {
	t.Helper()
	g := seedGoal(t, s)
	proj, err := s.ApproveGoal(g.ID, "a", "", sampleTasks(), nil)
	require.NoError(t, err)
	return g, proj
}

func TestCompleteTaskPromotesDependent(t *testing.T) {
	s := newTestStore(t)
	_, proj := approveSample(t, s)

	tasks, err := s.ListTasksByProject(proj.ID)
	require.NoError(t, err)
	var t1, t2 *model.Task
	for _, tk := range tasks {
		if tk.ID == "t1" {
			t1 = tk
		}
		if tk.ID == "t2" {
			t2 = tk
		}
	}
	require.Equal(t, model.TaskReady, t1.Status)
	require.Equal(t, model.TaskPending, t2.Status)

	require.NoError(t, s.StartTask("t1"))
	require.NoError(t, s.CompleteTask("t1", model.TaskOutcome{Status: model.TaskCompleted, CostUSD: 2}))

	t2after, err := s.GetTask("t2")
	require.NoError(t, err)
	require.Equal(t, model.TaskReady, t2after.Status)
}

func TestCompleteProjectCriticalFailureFailsProject(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	tasks := []TaskSpec{
		{ID: "t1", TaskType: "critical_step", ProjectCrit: true},
	}
	proj, err := s.ApproveGoal(g.ID, "a", "", tasks, nil)
	require.NoError(t, err)

	require.NoError(t, s.StartTask("t1"))
	require.NoError(t, s.CompleteTask("t1", model.TaskOutcome{Status: model.TaskFailed}))

	p, err := s.GetProject(proj.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProjectFailed, p.Status)

	goal, err := s.GetGoal(g.ID)
	require.NoError(t, err)
	require.Equal(t, model.GoalFailed, goal.Status)
}

func TestNonCriticalFailureBlocksStrictDependentAndFailsProject(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	tasks := []TaskSpec{
		{ID: "t1", TaskType: "optional_probe"},
		{ID: "t2", TaskType: "main_step", DependsOn: []string{"t1"}, Strict: map[string]bool{"t1": true}},
		{ID: "t3", TaskType: "final_step", DependsOn: []string{"t2"}, Strict: map[string]bool{"t2": true}},
	}
	proj, err := s.ApproveGoal(g.ID, "a", "", tasks, nil)
	require.NoError(t, err)

	require.NoError(t, s.StartTask("t1"))
	require.NoError(t, s.CompleteTask("t1", model.TaskOutcome{Status: model.TaskFailed}))

	t2, err := s.GetTask("t2")
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, t2.Status, "a strict dependent of a failed task must resolve terminal, not stay pending")

	t3, err := s.GetTask("t3")
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, t3.Status, "the chain must collapse transitively in one pass")

	p, err := s.GetProject(proj.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProjectFailed, p.Status, "with every task terminal the project must resolve, not stay stuck active")

	goal, err := s.GetGoal(g.ID)
	require.NoError(t, err)
	require.Equal(t, model.GoalFailed, goal.Status)
}

func TestNonStrictDependentProceedsPastFailedDependency(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	tasks := []TaskSpec{
		{ID: "t1", TaskType: "optional_probe"},
		{ID: "t2", TaskType: "main_step", DependsOn: []string{"t1"}},
	}
	_, err := s.ApproveGoal(g.ID, "a", "", tasks, nil)
	require.NoError(t, err)

	require.NoError(t, s.StartTask("t1"))
	require.NoError(t, s.CompleteTask("t1", model.TaskOutcome{Status: model.TaskFailed}))

	t2, err := s.GetTask("t2")
	require.NoError(t, err)
	require.Equal(t, model.TaskReady, t2.Status, "a non-strict dependent must not be blocked by a failed dependency")
}

func TestProjectCompletesWhenAllTasksTerminal(t *testing.T) {
	s := newTestStore(t)
	_, proj := approveSample(t, s)

	require.NoError(t, s.StartTask("t1"))
	require.NoError(t, s.CompleteTask("t1", model.TaskOutcome{Status: model.TaskCompleted, CostUSD: 2}))
	require.NoError(t, s.StartTask("t2"))
	require.NoError(t, s.CompleteTask("t2", model.TaskOutcome{Status: model.TaskCompleted, CostUSD: 3}))

	p, err := s.GetProject(proj.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProjectCompleted, p.Status)
}

func TestRecordCostIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, proj := approveSample(t, s)

	entry := model.BudgetLedgerEntry{
		Category:       model.CategoryAutonomous,
		AmountUSD:      5,
		ProjectID:      proj.ID,
		TaskID:         "t1",
		IdempotencyKey: "task:t1:attempt:1",
	}
	require.NoError(t, s.RecordCost(entry))
	require.NoError(t, s.RecordCost(entry), "replaying the same idempotency key must not double-charge")

	p, err := s.GetProject(proj.ID)
	require.NoError(t, err)
	require.Equal(t, 5.0, p.SpentBudgetUSD)
}

func TestRecordCostRejectsOverAllocation(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	g.BudgetLimitUSD = 5
	tasks := []TaskSpec{{ID: "t1", TaskType: "x", EstimatedCost: 5}}
	// ApproveGoal reads budget_limit_usd straight from the goals row, so
	// persist the lowered limit before approving.
	_, err := s.db.Exec(`UPDATE goals SET budget_limit_usd = 5 WHERE id = ?`, g.ID)
	require.NoError(t, err)

	proj, err := s.ApproveGoal(g.ID, "a", "", tasks, nil)
	require.NoError(t, err)

	err = s.RecordCost(model.BudgetLedgerEntry{
		Category: model.CategoryAutonomous, AmountUSD: 10, ProjectID: proj.ID,
		IdempotencyKey: "over",
	})
	require.Error(t, err)
	require.Equal(t, coreerr.BudgetExceeded, coreerr.CodeOf(err))
}

func TestSkipTaskPromotesNonStrictDependent(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	tasks := []TaskSpec{
		{ID: "t1", TaskType: "optional_probe"},
		{ID: "t2", TaskType: "main_step", DependsOn: []string{"t1"}},
	}
	_, err := s.ApproveGoal(g.ID, "a", "", tasks, nil)
	require.NoError(t, err)

	require.NoError(t, s.SkipTask("t1", "not applicable"))

	t2, err := s.GetTask("t2")
	require.NoError(t, err)
	require.Equal(t, model.TaskReady, t2.Status)
}

func TestRetryTaskReturnsRunningTaskToReady(t *testing.T) {
	s := newTestStore(t)
	_, _ = approveSample(t, s)

	require.NoError(t, s.StartTask("t1"))
	require.NoError(t, s.RetryTask("t1", "timeout"))

	t1, err := s.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, model.TaskReady, t1.Status)
	require.Equal(t, "timeout", t1.LastError)
	require.Equal(t, 1, t1.AttemptCount)
}

func TestRetryTaskRejectsNonRunningTask(t *testing.T) {
	s := newTestStore(t)
	_, _ = approveSample(t, s)

	err := s.RetryTask("t1", "timeout")
	require.Equal(t, coreerr.InvalidState, coreerr.CodeOf(err))
}
