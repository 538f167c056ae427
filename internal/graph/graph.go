package graph

import (
	"sort"

	"github.com/fablab/autonomy-core/internal/model"
)

// Readiness reports whether every dependency of a task has reached a
// state that counts as satisfied: completed always counts; skipped
// counts unless the template marked that specific dependency strict.
func Readiness(task model.Task, completedOrSkipped map[string]model.TaskStatus) bool {
	for _, dep := range task.DependsOn {
		status, ok := completedOrSkipped[dep]
		if !ok {
			return false
		}
		if status == model.TaskCompleted {
			continue
		}
		if status == model.TaskSkipped && !task.StrictDeps[dep] {
			continue
		}
		return false
	}
	return true
}

// DispatchOrder sorts ready tasks by priority (critical > high > medium >
// low), then by creation time ascending, then by id for a fully
// deterministic tie-break, matching the Project/Task Engine's dispatch
// order rule.
func DispatchOrder(tasks []model.Task) []model.Task {
	out := append([]model.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReadyTasks filters tasks whose status is pending and whose dependencies
// are all satisfied, returned in dispatch order.
func ReadyTasks(tasks []model.Task) []model.Task {
	byID := make(map[string]model.TaskStatus, len(tasks))
	for _, t := range tasks {
		if t.Status == model.TaskCompleted || t.Status == model.TaskSkipped {
			byID[t.ID] = t.Status
		}
	}

	var ready []model.Task
	for _, t := range tasks {
		if t.Status != model.TaskPending {
			continue
		}
		if Readiness(t, byID) {
			ready = append(ready, t)
		}
	}
	return DispatchOrder(ready)
}
