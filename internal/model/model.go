// Package model defines the entities the autonomy core persists: goals,
// projects, tasks, outcomes, scheduled jobs, and budget ledger rows. All
// identifiers are opaque strings (uuids); all monetary amounts are USD
// stored as float64 with four fractional digits of meaningful precision.
package model

import "time"

type GoalType string

const (
	GoalResearch     GoalType = "research"
	GoalImprovement  GoalType = "improvement"
	GoalOptimization GoalType = "optimization"
	GoalLearning     GoalType = "learning"
	GoalExploration  GoalType = "exploration"
)

type GoalStatus string

const (
	GoalIdentified GoalStatus = "identified"
	GoalApproved   GoalStatus = "approved"
	GoalRejected   GoalStatus = "rejected"
	GoalCompleted  GoalStatus = "completed"
	GoalFailed     GoalStatus = "failed"
)

type ProjectStatus string

const (
	ProjectProposed  ProjectStatus = "proposed"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
	ProjectFailed    ProjectStatus = "failed"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank gives priority a strict total order for tie-breaking; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

type WorkloadClass string

const (
	WorkloadScheduled   WorkloadClass = "scheduled"
	WorkloadExploration WorkloadClass = "exploration"
)

type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
)

type BudgetCategory string

const (
	CategoryAutonomous BudgetCategory = "autonomous"
	CategoryPerQuery   BudgetCategory = "per_query"
)

// Goal is a proposed unit of autonomous work.
type Goal struct {
	ID                  string
	Title               string
	Description         string
	GoalType            GoalType
	Status              GoalStatus
	BaseImpactScore     float64
	AdjustmentFactor    float64
	AdjustedImpactScore float64
	EstimatedCostUSD    float64
	BudgetLimitUSD      float64
	ApprovedBy          string
	ApprovedAt          *time.Time
	ApprovalNotes       string
	LearnFrom           bool
	BaselineCaptured    bool
	BaselineCapturedAt  *time.Time
	OutcomeMeasuredAt   *time.Time
	EffectivenessScore  *float64
	Metadata            map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Project is an approved goal's execution plan.
type Project struct {
	ID                  string
	GoalID              string
	Status              ProjectStatus
	AllocatedBudgetUSD  float64
	SpentBudgetUSD      float64
	ActualCostUSD       float64
	ActualDurationHours float64
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// Task is a leaf unit of work inside a project.
type Task struct {
	ID            string
	ProjectID     string
	TaskType      string
	Status        TaskStatus
	Priority      Priority
	DependsOn     []string
	StrictDeps    map[string]bool // depends_on id -> strict (skipped does not satisfy)
	ProjectCrit   bool            // fatal failure propagates to project
	EstimatedCost float64
	ActualCost    float64
	Payload       map[string]any
	Result        map[string]any
	AttemptCount  int
	LastError     string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// GoalOutcome is the baseline + post-window measurement for a goal.
type GoalOutcome struct {
	ID                 string
	GoalID              string
	BaselineDate        time.Time
	MeasurementDate     *time.Time
	BaselineMetrics     map[string]any
	OutcomeMetrics      map[string]any
	Impact              *float64
	ROI                 *float64
	Adoption            *float64
	Quality             *float64
	EffectivenessScore  *float64
}

// ScheduledJob is a durable scheduler entry.
type ScheduledJob struct {
	ID            string
	TriggerKind   TriggerKind
	Expression    string // cron expression, or a duration string for interval
	HandlerName   string
	Timezone      string
	Enabled       bool
	NextRunAt     time.Time
	LastRunAt     *time.Time
	LastStatus    string
	WorkloadClass WorkloadClass
}

// BudgetLedgerEntry is one recorded cost event.
type BudgetLedgerEntry struct {
	ID            string
	When          time.Time
	Category      BudgetCategory
	AmountUSD     float64
	GoalID        string
	ProjectID     string
	TaskID        string
	IdempotencyKey string
}

// ApprovalRecord is an immutable audit row for an approve/reject decision.
type ApprovalRecord struct {
	ID        string
	GoalID    string
	Approver  string
	Decision  string // approved | rejected
	Notes     string
	CreatedAt time.Time
}

// BudgetOverride is a recorded operator exception to the daily budget cap.
type BudgetOverride struct {
	ID       string
	Date     string // YYYY-MM-DD, local scheduler timezone
	Approver string
	Reason   string
	CreatedAt time.Time
}

// TaskOutcome is what a task handler reports back to the executor.
type TaskOutcome struct {
	Status    TaskStatus // completed | failed (failed + Retryable=true means failed_retryable)
	Result    map[string]any
	CostUSD   float64
	Err       error
	Retryable bool
}
