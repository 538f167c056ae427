// Package store provides SQLite-backed durable persistence for the
// autonomy core: goals, projects, tasks, outcomes, the budget ledger,
// scheduled job definitions, and approval records. Every cross-entity
// mutation (approve, record cost, measure outcome) runs inside a single
// transaction so the invariants in the data model hold even under
// concurrent replicas.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection holding the autonomy core's schema.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	goal_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'identified',
	base_impact_score REAL NOT NULL DEFAULT 0,
	adjustment_factor REAL NOT NULL DEFAULT 1.0,
	adjusted_impact_score REAL NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	budget_limit_usd REAL NOT NULL DEFAULT 0,
	approved_by TEXT NOT NULL DEFAULT '',
	approved_at DATETIME,
	approval_notes TEXT NOT NULL DEFAULT '',
	learn_from BOOLEAN NOT NULL DEFAULT 1,
	baseline_captured BOOLEAN NOT NULL DEFAULT 0,
	baseline_captured_at DATETIME,
	outcome_measured_at DATETIME,
	effectiveness_score REAL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	goal_id TEXT NOT NULL UNIQUE REFERENCES goals(id),
	status TEXT NOT NULL DEFAULT 'proposed',
	allocated_budget_usd REAL NOT NULL DEFAULT 0,
	spent_budget_usd REAL NOT NULL DEFAULT 0,
	actual_cost_usd REAL NOT NULL DEFAULT 0,
	actual_duration_hours REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	task_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	project_critical BOOLEAN NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	actual_cost_usd REAL NOT NULL DEFAULT 0,
	payload TEXT NOT NULL DEFAULT '{}',
	result TEXT NOT NULL DEFAULT '{}',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS task_deps (
	task_id TEXT NOT NULL REFERENCES tasks(id),
	depends_on_id TEXT NOT NULL REFERENCES tasks(id),
	strict BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, depends_on_id)
);

CREATE TABLE IF NOT EXISTS goal_outcomes (
	id TEXT PRIMARY KEY,
	goal_id TEXT NOT NULL UNIQUE REFERENCES goals(id),
	baseline_date DATETIME NOT NULL,
	measurement_date DATETIME,
	baseline_metrics TEXT NOT NULL DEFAULT '{}',
	outcome_metrics TEXT NOT NULL DEFAULT '{}',
	impact REAL,
	roi REAL,
	adoption REAL,
	quality REAL,
	effectiveness_score REAL
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id TEXT PRIMARY KEY,
	trigger_kind TEXT NOT NULL,
	expression TEXT NOT NULL,
	handler_name TEXT NOT NULL UNIQUE,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	enabled BOOLEAN NOT NULL DEFAULT 1,
	next_run_at DATETIME NOT NULL,
	last_run_at DATETIME,
	last_status TEXT NOT NULL DEFAULT '',
	workload_class TEXT NOT NULL DEFAULT 'scheduled'
);

CREATE TABLE IF NOT EXISTS budget_ledger (
	id TEXT PRIMARY KEY,
	occurred_at DATETIME NOT NULL DEFAULT (datetime('now')),
	category TEXT NOT NULL,
	amount_usd REAL NOT NULL,
	goal_id TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS approval_records (
	id TEXT PRIMARY KEY,
	goal_id TEXT NOT NULL,
	approver TEXT NOT NULL,
	decision TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS budget_overrides (
	id TEXT PRIMARY KEY,
	override_date TEXT NOT NULL,
	approver TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS health_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS kb_articles (
	slug TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	version_tag TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS print_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	failure_reason TEXT NOT NULL DEFAULT '',
	cost_usd REAL NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);
CREATE INDEX IF NOT EXISTS idx_goals_type ON goals(goal_type);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_task_deps_task ON task_deps(task_id);
CREATE INDEX IF NOT EXISTS idx_ledger_category_date ON budget_ledger(category, occurred_at);
CREATE INDEX IF NOT EXISTS idx_ledger_project ON budget_ledger(project_id);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_handler ON scheduled_jobs(handler_name);
CREATE INDEX IF NOT EXISTS idx_budget_overrides_date ON budget_overrides(override_date);
CREATE INDEX IF NOT EXISTS idx_print_outcomes_reason_date ON print_outcomes(failure_reason, recorded_at);
`

// Open creates or opens a SQLite database at the given path and ensures
// the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// migrate applies incremental schema changes for databases created
// before a column existed, following the pragma_table_info existence
// check the teacher uses for its dispatches table.
func migrate(db *sql.DB) error {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('goals') WHERE name = 'metadata'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check metadata column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE goals ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'`); err != nil {
			return fmt.Errorf("add metadata column: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for callers (e.g. the lock
// package) that need to share the same database file and transaction
// isolation as the rest of the store.
func (s *Store) DB() *sql.DB { return s.db }

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
