package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/lock"
	"github.com/fablab/autonomy-core/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*model.ScheduledJob
	runs     []string
	disabled []string
	events   []string
}

func newFakeStore(jobs ...*model.ScheduledJob) *fakeStore {
	fs := &fakeStore{jobs: map[string]*model.ScheduledJob{}}
	for _, j := range jobs {
		fs.jobs[j.HandlerName] = j
	}
	return fs
}

func (f *fakeStore) ListScheduledJobs() ([]*model.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ScheduledJob
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) UpsertScheduledJob(j *model.ScheduledJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.HandlerName] = j
	return nil
}

func (f *fakeStore) DueScheduledJobs(asOf time.Time) ([]*model.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ScheduledJob
	for _, j := range f.jobs {
		if j.Enabled && !j.NextRunAt.After(asOf) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordJobRun(handlerName string, ranAt, nextRunAt time.Time, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, handlerName+":"+status)
	j := f.jobs[handlerName]
	j.LastRunAt = &ranAt
	j.LastStatus = status
	j.NextRunAt = nextRunAt
	return nil
}

func (f *fakeStore) SetJobEnabled(handlerName string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[handlerName].Enabled = enabled
	f.disabled = append(f.disabled, handlerName)
	return nil
}

func (f *fakeStore) RecordHealthEvent(eventType, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType+": "+details)
	return nil
}

type fakeGate struct{ deny error }

func (g fakeGate) Allows(model.WorkloadClass) error { return g.deny }

type fakeLocker struct {
	denied map[string]bool
}

func (f *fakeLocker) Acquire(name, owner string, ttl time.Duration) (*lock.Lease, error) {
	if f.denied[name] {
		return nil, coreerr.New(coreerr.LockUnavailable, "held")
	}
	return &lock.Lease{Name: name, Token: "t", Owner: owner}, nil
}

func (f *fakeLocker) Release(lease *lock.Lease) error { return nil }

func TestReconcileInsertsNewlyRegisteredJobs(t *testing.T) {
	fs := newFakeStore()
	s := New(fs, fakeGate{}, &fakeLocker{}, DefaultConfig(), nil)
	s.Register(Job{HandlerName: "goal_generator", Trigger: Cron("0 3 * * 1"), Timezone: "UTC", WorkloadClass: model.WorkloadScheduled})

	require.NoError(t, s.Reconcile(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)))
	require.Contains(t, fs.jobs, "goal_generator")
	require.True(t, fs.jobs["goal_generator"].Enabled)
	require.Contains(t, fs.events, "scheduler_reconciliation: added: goal_generator")
}

func TestReconcileDisablesStoredJobsNoLongerRegistered(t *testing.T) {
	fs := newFakeStore(&model.ScheduledJob{HandlerName: "stale_job", Enabled: true, NextRunAt: time.Now()})
	s := New(fs, fakeGate{}, &fakeLocker{}, DefaultConfig(), nil)

	require.NoError(t, s.Reconcile(time.Now()))
	require.False(t, fs.jobs["stale_job"].Enabled)
	require.Contains(t, fs.disabled, "stale_job")
	require.Contains(t, fs.events, "scheduler_reconciliation: disabled: stale_job")
}

func TestReconcileLeavesAlreadyKnownJobsAlone(t *testing.T) {
	existing := &model.ScheduledJob{HandlerName: "outcome_tracker", Enabled: true, NextRunAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	fs := newFakeStore(existing)
	s := New(fs, fakeGate{}, &fakeLocker{}, DefaultConfig(), nil)
	s.Register(Job{HandlerName: "outcome_tracker", Trigger: Interval(time.Hour), Timezone: "UTC", WorkloadClass: model.WorkloadScheduled})

	require.NoError(t, s.Reconcile(time.Now()))
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), fs.jobs["outcome_tracker"].NextRunAt)
}

func TestTickFiresDueJobAndRecordsOk(t *testing.T) {
	due := &model.ScheduledJob{HandlerName: "h1", Enabled: true, NextRunAt: time.Now().Add(-time.Minute), WorkloadClass: model.WorkloadScheduled}
	fs := newFakeStore(due)
	s := New(fs, fakeGate{}, &fakeLocker{}, DefaultConfig(), nil)
	ran := false
	s.Register(Job{HandlerName: "h1", Trigger: Interval(time.Hour), Timezone: "UTC", WorkloadClass: model.WorkloadScheduled, Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	s.tick(context.Background())
	require.True(t, ran)
	require.Contains(t, fs.runs, "h1:ok")
}

func TestTickSkipsJobWhenGateDenies(t *testing.T) {
	due := &model.ScheduledJob{HandlerName: "h1", Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	fs := newFakeStore(due)
	gate := fakeGate{deny: coreerr.New(coreerr.BudgetExhausted, "no budget")}
	s := New(fs, gate, &fakeLocker{}, DefaultConfig(), nil)
	ran := false
	s.Register(Job{HandlerName: "h1", Trigger: Interval(time.Hour), Timezone: "UTC", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	s.tick(context.Background())
	require.False(t, ran)
	require.Contains(t, fs.runs, "h1:skipped:budget_exhausted")
}

func TestTickSkipsJobWhenLockHeldElsewhere(t *testing.T) {
	due := &model.ScheduledJob{HandlerName: "h1", Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	fs := newFakeStore(due)
	locker := &fakeLocker{denied: map[string]bool{"job:h1": true}}
	s := New(fs, fakeGate{}, locker, DefaultConfig(), nil)
	ran := false
	s.Register(Job{HandlerName: "h1", Trigger: Interval(time.Hour), Run: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	s.tick(context.Background())
	require.False(t, ran)
	require.Empty(t, fs.runs)
}

func TestTickRecordsFailedStatusWithoutPropagatingHandlerError(t *testing.T) {
	due := &model.ScheduledJob{HandlerName: "h1", Enabled: true, NextRunAt: time.Now().Add(-time.Minute)}
	fs := newFakeStore(due)
	s := New(fs, fakeGate{}, &fakeLocker{}, DefaultConfig(), nil)
	s.Register(Job{HandlerName: "h1", Trigger: Interval(time.Hour), Run: func(ctx context.Context) error {
		return coreerr.New(coreerr.ExternalUnavailable, "boom")
	}})

	require.NotPanics(t, func() { s.tick(context.Background()) })
	require.Contains(t, fs.runs, "h1:failed")
}
