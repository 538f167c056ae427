package workflowrt

import (
	"context"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/fablab/autonomy-core/internal/executor"
)

const TaskQueue = "autonomy-core-projects"

// Config points the worker at a Temporal server; HostPort defaults to
// the local dev server address when empty.
type Config struct {
	HostPort  string
	Namespace string
}

func (c Config) clientOptions() client.Options {
	hostPort := c.HostPort
	if hostPort == "" {
		hostPort = "127.0.0.1:7233"
	}
	return client.Options{HostPort: hostPort, Namespace: c.Namespace}
}

// StartWorker connects to Temporal and runs the project-workflow
// worker until the process receives an interrupt. st supplies the
// durable Store; handlers is the same task-type registry wired into
// internal/executor so both execution paths run identical task logic.
func StartWorker(cfg Config, st Store, handlers map[string]executor.Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	c, err := client.Dial(cfg.clientOptions())
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, TaskQueue, worker.Options{})

	acts := &Activities{Store: st, Handlers: handlers}

	w.RegisterWorkflow(ProjectWorkflow)
	w.RegisterActivity(acts.ListReadyTasksActivity)
	w.RegisterActivity(acts.ProjectStatusActivity)
	w.RegisterActivity(acts.CompleteProjectActivity)
	w.RegisterActivity(acts.TaskActivity)

	log.Info("workflowrt.worker_started", "task_queue", TaskQueue)
	return w.Run(worker.InterruptCh())
}

// StartProjectWorkflow opens a new ProjectWorkflow run keyed by
// project id, so a second start attempt for the same project is
// rejected by Temporal rather than racing a duplicate execution — the
// durable backstop for the Scheduler's job:<handler_name> lock.
func StartProjectWorkflow(c client.Client, in ProjectWorkflowInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        "project-" + in.ProjectID,
		TaskQueue: TaskQueue,
	}
	return c.ExecuteWorkflow(context.Background(), opts, ProjectWorkflow, in)
}

// SignalApproval delivers the goal-approval decision to a project's
// workflow. Called from the same place internal/approval.Workflow's
// sink is wired, so the HTTP-triggered approve/reject decision reaches
// the durable workflow without it re-deciding anything.
func SignalApproval(c client.Client, projectID string, approved bool, approver string) error {
	return c.SignalWorkflow(context.Background(), "project-"+projectID, "", SignalGoalApproval, ApprovalSignal{
		Approved: approved,
		Approver: approver,
	})
}
