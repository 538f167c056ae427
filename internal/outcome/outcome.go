// Package outcome implements the Outcome Tracker's measurement half:
// baseline capture happens synchronously inside goal approval
// (internal/engine) and is not duplicated here. This package runs the
// recurring measurement job that re-samples a completed goal's metrics
// once the fixed delay window has elapsed and computes the weighted
// effectiveness score.
package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fablab/autonomy-core/internal/collab"
	"github.com/fablab/autonomy-core/internal/model"
)

const defaultQuality = 0.5

// Store is the subset of *store.Store the tracker depends on.
type Store interface {
	GoalsDueForMeasurement(windowDays int) ([]*model.Goal, error)
	GetOutcome(goalID string) (*model.GoalOutcome, error)
	GetProjectByGoal(goalID string) (*model.Project, error)
	MeasureOutcome(goalID string, outcomeMetrics map[string]any, impact, roi, adoption, quality, effectiveness float64) error
}

type Config struct {
	WindowDays int
	// ValuePerImpactUSD is what a fully-credited (impact == 1.0) goal is
	// worth in dollar terms — the numerator the value_created /
	// actual_cost_usd ratio needs but has no other source for. Scaled
	// against the default daily autonomous budget cap so a goal only
	// saturates ROI by beating a typical day's spend, not by definition.
	ValuePerImpactUSD float64
}

func DefaultConfig() Config { return Config{WindowDays: 30, ValuePerImpactUSD: 25} }

type Tracker struct {
	store   Store
	metrics collab.MetricsProbe
	cfg     Config
	log     *slog.Logger
}

func New(st Store, metrics collab.MetricsProbe, cfg Config, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultConfig().WindowDays
	}
	if cfg.ValuePerImpactUSD <= 0 {
		cfg.ValuePerImpactUSD = DefaultConfig().ValuePerImpactUSD
	}
	return &Tracker{store: st, metrics: metrics, cfg: cfg, log: log}
}

// MeasureDue re-samples metrics and scores every goal whose
// measurement window has elapsed. A goal already measured by a
// concurrent replica is a silent no-op by virtue of
// store.MeasureOutcome's own idempotency check.
func (t *Tracker) MeasureDue(ctx context.Context) (int, error) {
	due, err := t.store.GoalsDueForMeasurement(t.cfg.WindowDays)
	if err != nil {
		return 0, fmt.Errorf("outcome: goals due for measurement: %w", err)
	}

	var measured int
	for _, goal := range due {
		if err := t.measureOne(ctx, goal); err != nil {
			t.log.Error("outcome.measure_failed", "goal_id", goal.ID, "error", err)
			continue
		}
		measured++
	}
	return measured, nil
}

func (t *Tracker) measureOne(ctx context.Context, goal *model.Goal) error {
	baseline, err := t.store.GetOutcome(goal.ID)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	project, err := t.store.GetProjectByGoal(goal.ID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	until := time.Now().UTC()
	since := until.AddDate(0, 0, -t.cfg.WindowDays)
	sinceStr, untilStr := since.Format(time.RFC3339), until.Format(time.RFC3339)

	outcomeMetrics, impact, adoption, err := t.sample(ctx, goal, baseline, sinceStr, untilStr)
	if err != nil {
		return fmt.Errorf("sample metrics: %w", err)
	}

	roi := saturatingROI(impact, t.cfg.ValuePerImpactUSD, project.ActualCostUSD)
	quality := defaultQuality
	effectiveness := 100 * (0.4*impact + 0.3*roi + 0.2*adoption + 0.1*quality)

	return t.store.MeasureOutcome(goal.ID, outcomeMetrics, impact, roi, adoption, quality, effectiveness)
}

// sample re-reads the goal-type-specific metrics and derives the
// impact (normalized improvement of the primary metric) and adoption
// components against the recorded baseline.
func (t *Tracker) sample(ctx context.Context, goal *model.Goal, baseline *model.GoalOutcome, since, until string) (map[string]any, float64, float64, error) {
	switch goal.GoalType {
	case model.GoalResearch:
		slug := slugString(goal)
		count, err := t.metrics.MaterialsCountForSlug(ctx, slug)
		if err != nil {
			return nil, 0, 0, err
		}
		baselineCount := intFromMetrics(baseline.BaselineMetrics, "kb_article_count_for_slug")
		impact := clamp01(float64(count-baselineCount)) // at least one new article is full credit
		if count > baselineCount {
			impact = 1.0
		} else {
			impact = 0.0
		}
		adoption := 0.0
		if count > 0 {
			adoption = 1.0
		}
		return map[string]any{"kb_article_count_for_slug": count}, impact, adoption, nil

	case model.GoalImprovement:
		reason := stringFromMetadata(goal, "failure_reason")
		failures, err := t.metrics.FailuresByReason(ctx, since, until)
		if err != nil {
			return nil, 0, 0, err
		}
		count := failures[reason]
		baselineCount := intFromMetrics(baseline.BaselineMetrics, "failure_count_30d_for_reason")
		impact := improvementRatio(baselineCount, count)
		adoption := 0.0
		if impact > 0 {
			adoption = 1.0
		}
		return map[string]any{"failure_count_30d_for_reason": count}, impact, adoption, nil

	case model.GoalOptimization:
		fraction, err := t.metrics.TierSpendFraction(ctx, since, until)
		if err != nil {
			return nil, 0, 0, err
		}
		baselineFraction := floatFromMetrics(baseline.BaselineMetrics, "tier_spend_fraction_30d")
		impact := fractionImprovement(baselineFraction, fraction)
		adoption := 0.0
		if impact > 0 {
			adoption = 1.0
		}
		return map[string]any{"tier_spend_fraction_30d": fraction}, impact, adoption, nil

	default:
		return map[string]any{}, 0, 0, nil
	}
}

// improvementRatio is the fraction of a baseline count eliminated by
// the outcome count; guards a zero baseline (nothing to improve on).
func improvementRatio(baselineCount, outcomeCount int) float64 {
	if baselineCount <= 0 {
		return 0
	}
	return clamp01(float64(baselineCount-outcomeCount) / float64(baselineCount))
}

func fractionImprovement(baseline, outcome float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return clamp01((baseline - outcome) / baseline)
}

// saturatingROI maps a raw value/cost ratio onto [0, 1) via x/(1+x), so
// an unbounded return never lets a single goal dominate the score.
// valueCreated scales with impact alone, independent of what the goal
// actually cost, so the ratio genuinely falls as spend rises for the
// same outcome rather than cancelling cost out of the equation.
func saturatingROI(impact, valuePerImpactUSD, actualCostUSD float64) float64 {
	if actualCostUSD <= 0 {
		return 0
	}
	valueCreated := impact * valuePerImpactUSD
	raw := valueCreated / actualCostUSD
	return raw / (1 + raw)
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }

func slugString(goal *model.Goal) string {
	if v := stringFromMetadata(goal, "slug"); v != "" {
		return v
	}
	return goal.ID
}

func stringFromMetadata(goal *model.Goal, key string) string {
	if goal.Metadata == nil {
		return ""
	}
	if v, ok := goal.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func intFromMetrics(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatFromMetrics(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
