package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
)

func TestReadyTasksOrdersByPriorityThenTime(t *testing.T) {
	now := time.Now()
	tasks := []model.Task{
		{ID: "a", Status: model.TaskPending, Priority: model.PriorityLow, CreatedAt: now},
		{ID: "b", Status: model.TaskPending, Priority: model.PriorityCritical, CreatedAt: now.Add(time.Second)},
		{ID: "c", Status: model.TaskPending, Priority: model.PriorityCritical, CreatedAt: now},
	}
	ready := ReadyTasks(tasks)
	require.Len(t, ready, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{ready[0].ID, ready[1].ID, ready[2].ID})
}

func TestReadyTasksBlockedByIncompleteDependency(t *testing.T) {
	tasks := []model.Task{
		{ID: "t1", Status: model.TaskRunning},
		{ID: "t2", Status: model.TaskPending, DependsOn: []string{"t1"}},
	}
	require.Empty(t, ReadyTasks(tasks))
}

func TestReadyTasksSkippedNonStrictCountsAsSatisfied(t *testing.T) {
	tasks := []model.Task{
		{ID: "t1", Status: model.TaskSkipped},
		{ID: "t2", Status: model.TaskPending, DependsOn: []string{"t1"}},
	}
	ready := ReadyTasks(tasks)
	require.Len(t, ready, 1)
	require.Equal(t, "t2", ready[0].ID)
}

func TestReadyTasksSkippedStrictDependencyBlocks(t *testing.T) {
	tasks := []model.Task{
		{ID: "t1", Status: model.TaskSkipped},
		{ID: "t2", Status: model.TaskPending, DependsOn: []string{"t1"}, StrictDeps: map[string]bool{"t1": true}},
	}
	require.Empty(t, ReadyTasks(tasks))
}
