package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablab/autonomy-core/internal/executor"
	"github.com/fablab/autonomy-core/internal/goalgen"
	"github.com/fablab/autonomy-core/internal/model"
	"github.com/fablab/autonomy-core/internal/outcome"
)

// Handler names are the scheduler's stable identity for each job; they
// must never change once deployed, since ScheduledJob rows are keyed
// by handler_name.
const (
	HandlerGoalGenerator  = "goal_generator"
	HandlerOutcomeTracker = "outcome_tracker"
	HandlerTaskExecutor   = "task_executor"
)

// RegisterCoreJobs wires the Goal Generator, Outcome Tracker, and Task
// Executor in as scheduled jobs with their standard trigger cadences:
// weekly goal generation, daily outcome measurement, and a tight
// interval poll for task dispatch. The goal generator additionally
// takes the goal_gen:weekly named lock around its run — distinct from
// the job:goal_generator lock the scheduler itself holds — so that the
// weekly generation cycle stays serialized even if something other than
// this scheduled job ever invokes it (an admin rerun, a future CLI hook).
func RegisterCoreJobs(s *Scheduler, gen *goalgen.Generator, tracker *outcome.Tracker, exec *executor.Executor, locker Locker, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	s.Register(Job{
		HandlerName:   HandlerGoalGenerator,
		Trigger:       Cron("0 3 * * 1"), // Monday 03:00
		Timezone:      "UTC",
		WorkloadClass: model.WorkloadScheduled,
		Run: func(ctx context.Context) error {
			lease, err := locker.Acquire("goal_gen:weekly", "goal_generator", time.Hour)
			if err != nil {
				return err
			}
			defer locker.Release(lease)

			goals, err := gen.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("scheduler.goal_generator_ran", "goals_created", len(goals))
			return nil
		},
	})

	s.Register(Job{
		HandlerName:   HandlerOutcomeTracker,
		Trigger:       Cron("0 4 * * *"), // daily 04:00
		Timezone:      "UTC",
		WorkloadClass: model.WorkloadScheduled,
		Run: func(ctx context.Context) error {
			n, err := tracker.MeasureDue(ctx)
			if err != nil {
				return err
			}
			log.Info("scheduler.outcome_tracker_ran", "goals_measured", n)
			return nil
		},
	})

	s.Register(Job{
		HandlerName:   HandlerTaskExecutor,
		Trigger:       Interval(30 * time.Second),
		Timezone:      "UTC",
		WorkloadClass: model.WorkloadScheduled,
		Run: func(ctx context.Context) error {
			n, err := exec.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Debug("scheduler.task_executor_ran", "tasks_attempted", n)
			return nil
		},
	})
}
