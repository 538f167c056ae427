// Package workflowrt provides a Temporal-backed durable execution layer
// for approved Projects, alongside (not instead of) the poll-based
// internal/executor. Each Project runs as a ProjectWorkflow; each Task
// it contains runs as a Temporal Activity. Temporal's own per-workflow-ID
// and per-activity idempotency give the Scheduler's job:<handler_name>
// and task:<task_id> locks a durable backstop: a crashed worker resumes
// the workflow from its event history instead of losing progress.
package workflowrt

import "github.com/fablab/autonomy-core/internal/model"

// SignalGoalApproval is the signal name a ProjectWorkflow blocks on
// before running any task, mirroring the approval gate in
// internal/approval at the durable-execution layer.
const SignalGoalApproval = "goal-approval"

// ApprovalSignal carries the approve/reject decision for the goal that
// owns this project; sent by whatever already decided it through
// internal/approval (the signal does not re-decide, it informs).
type ApprovalSignal struct {
	Approved bool
	Approver string
}

// ProjectWorkflowInput starts a ProjectWorkflow for one already-created
// project.
type ProjectWorkflowInput struct {
	ProjectID string
	GoalID    string
}

// TaskResult is TaskActivity's return value across the Temporal
// payload boundary. It deliberately narrows model.TaskOutcome — an
// error interface does not round-trip through JSON serialization, so
// the activity flattens it to a message string before returning.
type TaskResult struct {
	TaskID       string
	Status       model.TaskStatus
	Retryable    bool
	ErrorMessage string
	CostUSD      float64
}

// defaultPollIntervalSeconds is the workflow-timer interval ProjectWorkflow uses to
// recheck task readiness between activity bursts. It is a
// workflow.Sleep, not a wall-clock sleep, so it replays deterministically.
const defaultPollIntervalSeconds = 5
