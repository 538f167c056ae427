package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/model"
)

const jobColumns = `id, trigger_kind, expression, handler_name, timezone, enabled,
	next_run_at, last_run_at, last_status, workload_class`

func scanJob(row interface{ Scan(...any) error }) (*model.ScheduledJob, error) {
	var j model.ScheduledJob
	var kind, workload string
	var lastRunAt sql.NullTime

	err := row.Scan(
		&j.ID, &kind, &j.Expression, &j.HandlerName, &j.Timezone, &j.Enabled,
		&j.NextRunAt, &lastRunAt, &j.LastStatus, &workload,
	)
	if err != nil {
		return nil, err
	}
	j.TriggerKind = model.TriggerKind(kind)
	j.WorkloadClass = model.WorkloadClass(workload)
	j.LastRunAt = fromNullTime(lastRunAt)
	return &j, nil
}

// UpsertScheduledJob creates or updates a job definition by handler
// name, which is the scheduler's stable identity for a recurring job.
func (s *Store) UpsertScheduledJob(j *model.ScheduledJob) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (id, trigger_kind, expression, handler_name, timezone, enabled,
			next_run_at, workload_class)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(handler_name) DO UPDATE SET
			trigger_kind = excluded.trigger_kind, expression = excluded.expression,
			timezone = excluded.timezone, enabled = excluded.enabled,
			next_run_at = excluded.next_run_at, workload_class = excluded.workload_class`,
		j.ID, string(j.TriggerKind), j.Expression, j.HandlerName, j.Timezone, j.Enabled,
		j.NextRunAt, string(j.WorkloadClass),
	)
	if err != nil {
		return fmt.Errorf("store: upsert scheduled job: %w", err)
	}
	return nil
}

// ListScheduledJobs returns every job definition, for startup reconciliation.
func (s *Store) ListScheduledJobs() ([]*model.ScheduledJob, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM scheduled_jobs ORDER BY handler_name`)
	if err != nil {
		return nil, fmt.Errorf("store: list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan scheduled job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DueScheduledJobs returns enabled jobs whose next_run_at has passed.
func (s *Store) DueScheduledJobs(asOf time.Time) ([]*model.ScheduledJob, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at`, asOf)
	if err != nil {
		return nil, fmt.Errorf("store: due scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan scheduled job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RecordJobRun advances a job's schedule after a run attempt.
func (s *Store) RecordJobRun(handlerName string, ranAt, nextRunAt time.Time, status string) error {
	res, err := s.db.Exec(`
		UPDATE scheduled_jobs SET last_run_at = ?, last_status = ?, next_run_at = ?
		WHERE handler_name = ?`, ranAt, status, nextRunAt, handlerName)
	if err != nil {
		return fmt.Errorf("store: record job run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.NotFound, "scheduled job not found: "+handlerName)
	}
	return nil
}

// SetJobEnabled toggles a job's enabled flag, used by scheduler
// reconciliation to disable jobs whose handler is no longer registered
// without losing their schedule.
func (s *Store) SetJobEnabled(handlerName string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE scheduled_jobs SET enabled = ? WHERE handler_name = ?`, enabled, handlerName)
	if err != nil {
		return fmt.Errorf("store: set job enabled: %w", err)
	}
	return nil
}
