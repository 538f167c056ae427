package workflowrt

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fablab/autonomy-core/internal/model"
)

var (
	taskActivityOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	readOnlyActivityOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
)

// ProjectWorkflow is the durable execution of one approved project: it
// blocks on the goal-approval signal, then repeatedly fans out the
// project's ready tasks as Activities until the project reaches a
// terminal status. Dependency resolution (which task becomes ready
// when another completes) happens inside Store.CompleteTask, not here
// — this workflow only asks "what's ready" and fires it.
func ProjectWorkflow(ctx workflow.Context, in ProjectWorkflowInput) error {
	logger := workflow.GetLogger(ctx)
	var a *Activities

	logger.Info("workflowrt.awaiting_approval", "project_id", in.ProjectID, "goal_id", in.GoalID)
	signalChan := workflow.GetSignalChannel(ctx, SignalGoalApproval)
	var decision ApprovalSignal
	signalChan.Receive(ctx, &decision)

	if !decision.Approved {
		logger.Info("workflowrt.rejected", "project_id", in.ProjectID)
		roCtx := workflow.WithActivityOptions(ctx, readOnlyActivityOptions)
		_ = workflow.ExecuteActivity(roCtx, a.CompleteProjectActivity, in.ProjectID, model.ProjectCancelled).Get(ctx, nil)
		return nil
	}

	for {
		roCtx := workflow.WithActivityOptions(ctx, readOnlyActivityOptions)

		var project *model.Project
		if err := workflow.ExecuteActivity(roCtx, a.ProjectStatusActivity, in.ProjectID).Get(ctx, &project); err != nil {
			return fmt.Errorf("workflowrt: project status: %w", err)
		}
		if isTerminal(project.Status) {
			logger.Info("workflowrt.project_terminal", "project_id", in.ProjectID, "status", project.Status)
			return nil
		}

		var ready []*model.Task
		if err := workflow.ExecuteActivity(roCtx, a.ListReadyTasksActivity, in.ProjectID).Get(ctx, &ready); err != nil {
			return fmt.Errorf("workflowrt: list ready tasks: %w", err)
		}

		if len(ready) == 0 {
			if err := workflow.Sleep(ctx, defaultPollIntervalSeconds*time.Second); err != nil {
				return err
			}
			continue
		}

		futures := make([]workflow.Future, 0, len(ready))
		taskCtx := workflow.WithActivityOptions(ctx, taskActivityOptions)
		for _, task := range ready {
			futures = append(futures, workflow.ExecuteActivity(taskCtx, a.TaskActivity, task.ID))
		}
		for i, f := range futures {
			var result TaskResult
			if err := f.Get(ctx, &result); err != nil {
				logger.Warn("workflowrt.task_activity_failed", "task_id", ready[i].ID, "error", err.Error())
			}
		}
	}
}

func isTerminal(status model.ProjectStatus) bool {
	switch status {
	case model.ProjectCompleted, model.ProjectCancelled, model.ProjectFailed:
		return true
	default:
		return false
	}
}
