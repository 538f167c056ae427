// Package executor implements the Task Executor: it dequeues ready
// tasks in dispatch order, runs each under a distributed lock through a
// bounded worker pool, and returns a task to ready after a retryable
// handler failure while attempts remain within max_retries. A capped
// exponential backoff delay is computed and logged for each retry, but
// the requeued task is picked up again on the next poll, not after
// that delay.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/lock"
	"github.com/fablab/autonomy-core/internal/metrics"
	"github.com/fablab/autonomy-core/internal/model"
)

// Handler runs one task and reports its outcome. Handlers must be
// idempotent under retry, or use the task id as an external-system
// idempotency key.
type Handler func(ctx context.Context, task *model.Task) model.TaskOutcome

// Store is the subset of *store.Store the executor depends on.
type Store interface {
	GetTask(id string) (*model.Task, error)
	ReadyTasksAcrossProjects() ([]*model.Task, error)
	StartTask(id string) error
	RetryTask(id, lastError string) error
	CompleteTask(id string, outcome model.TaskOutcome) error
	RecordCost(entry model.BudgetLedgerEntry) error
}

// Locker is the subset of *lock.Locker the executor depends on.
type Locker interface {
	Acquire(name, owner string, ttl time.Duration) (*lock.Lease, error)
	Release(lease *lock.Lease) error
}

type Config struct {
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	LockTTL       time.Duration
	Concurrency   int
	OwnerID       string
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
		LockTTL:     10 * time.Minute,
		Concurrency: 4,
		OwnerID:     "executor",
	}
}

type Executor struct {
	store    Store
	locker   Locker
	handlers map[string]Handler
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Registry
}

// New wires an Executor. reg may be nil (e.g. in unit tests), in which
// case retries are simply not counted.
func New(st Store, locker Locker, cfg Config, log *slog.Logger, reg *metrics.Registry) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{store: st, locker: locker, handlers: make(map[string]Handler), cfg: cfg, log: log, metrics: reg}
}

// RegisterHandler wires a task-type handler; only one handler may own
// a given task type.
func (e *Executor) RegisterHandler(taskType string, h Handler) {
	e.handlers[taskType] = h
}

// HasHandler reports whether taskType has a registered handler.
func (e *Executor) HasHandler(taskType string) bool {
	_, ok := e.handlers[taskType]
	return ok
}

// RunOnce dequeues every currently-ready task and drains them through a
// bounded worker pool, returning the number of tasks attempted. Callers
// that want a continuous loop call this repeatedly (e.g. from the
// scheduler's own tick, or a dedicated poll loop).
func (e *Executor) RunOnce(ctx context.Context) (int, error) {
	tasks, err := e.store.ReadyTasksAcrossProjects()
	if err != nil {
		return 0, fmt.Errorf("executor: ready tasks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.cfg.Concurrency))
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := e.attempt(gctx, task); err != nil {
				e.log.Error("executor.task_attempt_failed", "task_id", task.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(tasks), nil
}

// attempt implements the acquire-lock/re-read/start/invoke/record-cost/
// complete-or-retry sequence for one task.
func (e *Executor) attempt(ctx context.Context, task *model.Task) error {
	handler, ok := e.handlers[task.TaskType]
	if !ok {
		return fmt.Errorf("executor: no handler registered for task type %q", task.TaskType)
	}

	lockName := "task:" + task.ID
	lease, err := e.locker.Acquire(lockName, e.cfg.OwnerID, e.cfg.LockTTL)
	if err != nil {
		if coreerr.CodeOf(err) == coreerr.LockUnavailable {
			e.log.Debug("executor.lock_held_elsewhere", "task_id", task.ID)
			return nil
		}
		return fmt.Errorf("executor: acquire lock for %s: %w", task.ID, err)
	}
	defer e.locker.Release(lease)

	fresh, err := e.store.GetTask(task.ID)
	if err != nil {
		return fmt.Errorf("executor: re-read %s: %w", task.ID, err)
	}
	if fresh.Status != model.TaskReady {
		return nil
	}

	if err := e.store.StartTask(task.ID); err != nil {
		return fmt.Errorf("executor: start %s: %w", task.ID, err)
	}

	outcome := handler(ctx, fresh)

	idempotencyKey := fmt.Sprintf("task-cost:%s:%d", task.ID, fresh.AttemptCount+1)
	if outcome.CostUSD > 0 {
		if err := e.store.RecordCost(model.BudgetLedgerEntry{
			When:           time.Now().UTC(),
			Category:       model.CategoryAutonomous,
			AmountUSD:      outcome.CostUSD,
			ProjectID:      task.ProjectID,
			TaskID:         task.ID,
			IdempotencyKey: idempotencyKey,
		}); err != nil {
			e.log.Error("executor.record_cost_failed", "task_id", task.ID, "error", err)
		}
	}

	if outcome.Status == model.TaskFailed && outcome.Retryable {
		return e.retryOrGiveUp(task.ID, fresh.AttemptCount+1, outcome)
	}

	if err := e.store.CompleteTask(task.ID, outcome); err != nil {
		return fmt.Errorf("executor: complete %s: %w", task.ID, err)
	}
	return nil
}

func (e *Executor) retryOrGiveUp(taskID string, attemptCount int, outcome model.TaskOutcome) error {
	if attemptCount >= e.cfg.MaxRetries {
		outcome.Retryable = false
		e.log.Info("executor.retries_exhausted", "task_id", taskID, "attempt_count", attemptCount)
		return e.store.CompleteTask(taskID, outcome)
	}

	lastErr := ""
	if outcome.Err != nil {
		lastErr = outcome.Err.Error()
	}
	delay := backoffDelay(attemptCount, e.cfg.BaseBackoff, e.cfg.MaxBackoff)
	e.log.Info("executor.task_retrying", "task_id", taskID, "attempt_count", attemptCount, "backoff", delay)
	if e.metrics != nil {
		e.metrics.TaskRetries.Inc()
	}
	return e.store.RetryTask(taskID, lastErr)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
