// Package engine implements the Project/Task Engine: it turns an
// approved goal into a project and its templated tasks, captures the
// goal-type-specific outcome baseline at the moment of approval, and
// exposes cost recording to task handlers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fablab/autonomy-core/internal/collab"
	"github.com/fablab/autonomy-core/internal/model"
	"github.com/fablab/autonomy-core/internal/store"
)

// Store is the subset of *store.Store the engine depends on.
type Store interface {
	GetGoal(id string) (*model.Goal, error)
	ApproveGoal(goalID, approver, notes string, tasks []store.TaskSpec, baselineMetrics map[string]any) (*model.Project, error)
	RejectGoal(goalID, approver, notes string) error
	RecordCost(entry model.BudgetLedgerEntry) error
}

type Engine struct {
	store   Store
	metrics collab.MetricsProbe
	log     *slog.Logger
}

func New(st Store, metrics collab.MetricsProbe, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, metrics: metrics, log: log}
}

// Approve builds the goal's task template, samples its baseline
// metrics, and delegates to the store's transactional approval. It is
// idempotent: approving an already-approved goal returns the existing
// project and takes no new baseline sample.
func (e *Engine) Approve(ctx context.Context, goalID, approver, notes string) (*model.Project, error) {
	goal, err := e.store.GetGoal(goalID)
	if err != nil {
		return nil, fmt.Errorf("engine: approve %s: %w", goalID, err)
	}

	if goal.Status == model.GoalApproved {
		return e.store.ApproveGoal(goalID, approver, notes, nil, nil)
	}

	tasks, err := buildTemplate(goal.GoalType, goal)
	if err != nil {
		return nil, fmt.Errorf("engine: approve %s: %w", goalID, err)
	}

	baseline, err := e.captureBaseline(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("engine: approve %s: baseline: %w", goalID, err)
	}

	project, err := e.store.ApproveGoal(goalID, approver, notes, tasks, baseline)
	if err != nil {
		return nil, err
	}
	e.log.Info("engine.goal_approved", "goal_id", goalID, "project_id", project.ID, "task_count", len(tasks))
	return project, nil
}

func (e *Engine) Reject(goalID, approver, notes string) error {
	if err := e.store.RejectGoal(goalID, approver, notes); err != nil {
		return err
	}
	e.log.Info("engine.goal_rejected", "goal_id", goalID)
	return nil
}

// RecordCost is the entry point task handlers and the executor call to
// debit a project's budget for one unit of work.
func (e *Engine) RecordCost(goalID, projectID, taskID string, amountUSD float64, category model.BudgetCategory, idempotencyKey string) error {
	return e.store.RecordCost(model.BudgetLedgerEntry{
		When:           time.Now().UTC(),
		Category:       category,
		AmountUSD:      amountUSD,
		GoalID:         goalID,
		ProjectID:      projectID,
		TaskID:         taskID,
		IdempotencyKey: idempotencyKey,
	})
}

// captureBaseline samples the goal-type-specific baseline metric
// functions. A missing metrics probe (collab not configured) still
// lets approval through with an empty baseline rather than blocking
// the workflow on an optional integration.
func (e *Engine) captureBaseline(ctx context.Context, goal *model.Goal) (map[string]any, error) {
	if e.metrics == nil {
		return map[string]any{}, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	until := time.Now().UTC().Format(time.RFC3339)

	switch goal.GoalType {
	case model.GoalResearch:
		slug := slugOf(goal)
		count, err := e.metrics.MaterialsCountForSlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"kb_article_count_for_slug":      count,
			"recent_query_miss_rate_for_slug": 0.0,
		}, nil
	case model.GoalImprovement:
		reason := metadataString(goal, "failure_reason")
		failures, err := e.metrics.FailuresByReason(ctx, since, until)
		if err != nil {
			return nil, err
		}
		total, err := e.metrics.TotalSpend(ctx, since, until)
		if err != nil {
			return nil, err
		}
		count := failures[reason]
		meanCost := 0.0
		if count > 0 {
			meanCost = total / float64(count)
		}
		return map[string]any{
			"failure_count_30d_for_reason": count,
			"mean_cost_per_failure_30d":    meanCost,
		}, nil
	case model.GoalOptimization:
		fraction, err := e.metrics.TierSpendFraction(ctx, since, until)
		if err != nil {
			return nil, err
		}
		total, err := e.metrics.TotalSpend(ctx, since, until)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"tier_spend_fraction_30d": fraction,
			"total_spend_30d":        total,
		}, nil
	default:
		return map[string]any{}, nil
	}
}
