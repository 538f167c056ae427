// Package scheduler maintains the registry of recurring jobs: job
// definitions live in the store so they survive restart, each fire
// goes through the resource gate and a named distributed lock, and
// handlers own their own retries — the scheduler retries nothing.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/lock"
	"github.com/fablab/autonomy-core/internal/model"
)

// Handler runs one job fire. Handlers are expected to be idempotent
// under a re-fire after a crash mid-run, since the scheduler does not
// track partial progress.
type Handler func(ctx context.Context) error

// Job is a code-declared recurring job definition, registered at
// startup and reconciled against the store's persisted copy.
type Job struct {
	HandlerName   string
	Trigger       Trigger
	Timezone      string
	WorkloadClass model.WorkloadClass
	Run           Handler
}

// Store is the subset of *store.Store the scheduler depends on.
type Store interface {
	ListScheduledJobs() ([]*model.ScheduledJob, error)
	UpsertScheduledJob(j *model.ScheduledJob) error
	DueScheduledJobs(asOf time.Time) ([]*model.ScheduledJob, error)
	RecordJobRun(handlerName string, ranAt, nextRunAt time.Time, status string) error
	SetJobEnabled(handlerName string, enabled bool) error
	RecordHealthEvent(eventType, details string) error
}

// Gate is the subset of *resourcegate.Gate the scheduler depends on.
type Gate interface {
	Allows(workloadClass model.WorkloadClass) error
}

// Locker is the subset of *lock.Locker the scheduler depends on.
type Locker interface {
	Acquire(name, owner string, ttl time.Duration) (*lock.Lease, error)
	Release(lease *lock.Lease) error
}

type Config struct {
	TickInterval time.Duration
	LockTTL      time.Duration
	OwnerID      string
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 30 * time.Second,
		LockTTL:      10 * time.Minute,
		OwnerID:      "scheduler",
	}
}

// Scheduler is a single-threaded cooperative loop per replica: it runs
// each due job's handler inline, so a tick waits for every handler it
// fires, one at a time and with no worker pool, relying on job:<handler>
// locks rather than in-process concurrency to keep replicas from
// double-firing the same job.
type Scheduler struct {
	store Store
	gate  Gate
	lock  Locker
	cfg   Config
	log   *slog.Logger

	jobs map[string]Job
}

func New(st Store, gate Gate, locker Locker, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: st, gate: gate, lock: locker, cfg: cfg, log: log, jobs: make(map[string]Job)}
}

// Register adds a code-declared job. Call Reconcile after registering
// every job, before Run.
func (s *Scheduler) Register(j Job) {
	s.jobs[j.HandlerName] = j
}

// Reconcile aligns the store's persisted job definitions with the
// code-declared set: new handlers are inserted with their first
// next_run_at, and stored jobs whose handler is no longer registered
// are disabled (never deleted, so history survives a rollback).
func (s *Scheduler) Reconcile(now time.Time) error {
	existing, err := s.store.ListScheduledJobs()
	if err != nil {
		return err
	}
	known := make(map[string]*model.ScheduledJob, len(existing))
	for _, j := range existing {
		known[j.HandlerName] = j
	}

	for name, job := range s.jobs {
		if _, ok := known[name]; ok {
			continue
		}
		next, err := job.Trigger.Next(now, job.Timezone)
		if err != nil {
			return err
		}
		if err := s.store.UpsertScheduledJob(&model.ScheduledJob{
			ID:            name,
			TriggerKind:   job.Trigger.Kind,
			Expression:    job.Trigger.Expression,
			HandlerName:   name,
			Timezone:      job.Timezone,
			Enabled:       true,
			NextRunAt:     next,
			WorkloadClass: job.WorkloadClass,
		}); err != nil {
			return err
		}
		if err := s.store.RecordHealthEvent("scheduler_reconciliation", "added: "+name); err != nil {
			s.log.Warn("scheduler.reconciliation_log_failed", "handler", name, "error", err)
		}
	}

	for name := range known {
		if _, ok := s.jobs[name]; !ok {
			if err := s.store.SetJobEnabled(name, false); err != nil {
				return err
			}
			if err := s.store.RecordHealthEvent("scheduler_reconciliation", "disabled: "+name); err != nil {
				s.log.Warn("scheduler.reconciliation_log_failed", "handler", name, "error", err)
			}
		}
	}
	return nil
}

// Run blocks until ctx is cancelled, ticking at the configured interval
// and firing whatever is due each tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler.started", "tick_interval", s.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler.stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueScheduledJobs(time.Now().UTC())
	if err != nil {
		s.log.Error("scheduler.tick_failed", "error", err)
		return
	}
	for _, def := range due {
		job, ok := s.jobs[def.HandlerName]
		if !ok {
			continue // disabled handler with a stale row; Reconcile will catch up
		}
		s.fire(ctx, job, def)
	}
}

// fire implements the acquire-lock/gate-check/invoke/release sequence
// for one job.
func (s *Scheduler) fire(ctx context.Context, job Job, def *model.ScheduledJob) {
	lockName := "job:" + job.HandlerName
	lease, err := s.lock.Acquire(lockName, s.cfg.OwnerID, s.cfg.LockTTL)
	if err != nil {
		if coreerr.CodeOf(err) == coreerr.LockUnavailable {
			s.log.Debug("scheduler.lock_held_elsewhere", "handler", job.HandlerName)
			return
		}
		s.log.Error("scheduler.lock_acquire_failed", "handler", job.HandlerName, "error", err)
		return
	}
	defer s.lock.Release(lease)

	status := "ok"
	if err := s.gate.Allows(job.WorkloadClass); err != nil {
		status = "skipped:" + string(coreerr.CodeOf(err))
		s.log.Info("scheduler.job_skipped", "handler", job.HandlerName, "reason", status)
	} else {
		if runErr := job.Run(ctx); runErr != nil {
			status = "failed"
			s.log.Error("scheduler.job_failed", "handler", job.HandlerName, "error", runErr)
		} else {
			s.log.Info("scheduler.job_ok", "handler", job.HandlerName)
		}
	}

	now := time.Now().UTC()
	next, err := job.Trigger.Next(now, job.Timezone)
	if err != nil {
		s.log.Error("scheduler.next_run_compute_failed", "handler", job.HandlerName, "error", err)
		next = now.Add(s.cfg.TickInterval)
	}
	if err := s.store.RecordJobRun(job.HandlerName, now, next, status); err != nil {
		s.log.Error("scheduler.record_run_failed", "handler", job.HandlerName, "error", err)
	}
}
