// Package goalgen implements the Goal Generator: three independent
// strategies that each propose zero or more goal candidates, a shared
// weighted scoring function, experience-weighted adjustment via the
// Feedback Loop, and the discard/tie-break/weekly-cap rules that turn
// surviving candidates into persisted `identified` goals.
package goalgen

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/fablab/autonomy-core/internal/model"
	"github.com/fablab/autonomy-core/internal/store"
)

// Store is the subset of *store.Store the generator depends on.
type Store interface {
	FailureClusters(sinceDays int) ([]store.FailureCluster, int, error)
	ExistingKBSlugs() (map[string]bool, error)
	CreateGoal(g *model.Goal) error
}

// MetricsProbe is the subset of collab.MetricsProbe the spend-mix
// strategy needs.
type MetricsProbe interface {
	TierSpendFraction(ctx context.Context, since, until string) (float64, error)
	TotalSpend(ctx context.Context, since, until string) (float64, error)
}

// FeedbackAdjuster supplies the experience-weighted adjustment factor;
// satisfied by *feedback.Loop.
type FeedbackAdjuster interface {
	Adjust(goalType model.GoalType) (float64, error)
}

type Config struct {
	LookbackDays          int
	ReferenceCostUSD       float64
	MinClusterSize         int
	KnowledgeTopicSlugs    []string
	SpendFractionThreshold float64
	SpendFloorUSD          float64
	MinAdjustedImpact      float64
	WeeklyCap              int
	DefaultEstimatedCost   float64
	DefaultBudgetLimit     float64
}

func DefaultConfig() Config {
	return Config{
		LookbackDays:           30,
		ReferenceCostUSD:       5.0,
		MinClusterSize:         3,
		SpendFractionThreshold: 0.30,
		SpendFloorUSD:          5.0,
		MinAdjustedImpact:      50.0,
		WeeklyCap:              5,
		DefaultEstimatedCost:   30.0,
		DefaultBudgetLimit:     50.0,
	}
}

// candidate is a strategy's raw proposal before scoring.
type candidate struct {
	goalType       model.GoalType
	title          string
	description    string
	frequency      float64
	severity       float64
	costSavings    float64
	knowledgeGap   float64
	strategicValue float64
	evidenceAt     time.Time
	metadata       map[string]any
}

// scored is a candidate after the weighted formula and feedback
// adjustment have been applied.
type scored struct {
	candidate
	baseImpact     float64
	adjustedImpact float64
}

type Generator struct {
	store    Store
	metrics  MetricsProbe
	feedback FeedbackAdjuster
	cfg      Config
	log      *slog.Logger
}

func New(st Store, metrics MetricsProbe, feedback FeedbackAdjuster, cfg Config, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{store: st, metrics: metrics, feedback: feedback, cfg: cfg, log: log}
}

// Run executes all three strategies, scores and adjusts every
// candidate, discards those below the minimum, applies the tie-break
// order, caps at the weekly limit, and persists the survivors as
// `identified` goals.
func (g *Generator) Run(ctx context.Context) ([]*model.Goal, error) {
	var candidates []candidate
	candidates = append(candidates, g.printFailureCandidates()...)
	candidates = append(candidates, g.knowledgeGapCandidates()...)

	if spendCandidate, ok, err := g.spendMixCandidate(ctx); err != nil {
		return nil, fmt.Errorf("goalgen: spend-mix strategy: %w", err)
	} else if ok {
		candidates = append(candidates, spendCandidate)
	}

	var surviving []scored
	for _, c := range candidates {
		sc, err := g.score(c)
		if err != nil {
			return nil, fmt.Errorf("goalgen: score candidate %q: %w", c.title, err)
		}
		if sc.adjustedImpact < g.cfg.MinAdjustedImpact {
			g.log.Info("goalgen.candidate_discarded", "title", c.title, "adjusted_impact", sc.adjustedImpact)
			continue
		}
		surviving = append(surviving, sc)
	}

	sort.Slice(surviving, func(i, j int) bool {
		if surviving[i].adjustedImpact != surviving[j].adjustedImpact {
			return surviving[i].adjustedImpact > surviving[j].adjustedImpact
		}
		if surviving[i].strategicValue != surviving[j].strategicValue {
			return surviving[i].strategicValue > surviving[j].strategicValue
		}
		return surviving[i].evidenceAt.Before(surviving[j].evidenceAt)
	})

	if g.cfg.WeeklyCap > 0 && len(surviving) > g.cfg.WeeklyCap {
		dropped := len(surviving) - g.cfg.WeeklyCap
		g.log.Info("goalgen.weekly_cap_applied", "dropped", dropped)
		surviving = surviving[:g.cfg.WeeklyCap]
	}

	goals := make([]*model.Goal, 0, len(surviving))
	for _, sc := range surviving {
		goal := &model.Goal{
			Title:               sc.title,
			Description:         sc.description,
			GoalType:            sc.goalType,
			Status:              model.GoalIdentified,
			BaseImpactScore:     sc.baseImpact,
			AdjustedImpactScore: sc.adjustedImpact,
			EstimatedCostUSD:    g.cfg.DefaultEstimatedCost,
			BudgetLimitUSD:      g.cfg.DefaultBudgetLimit,
			LearnFrom:           true,
			Metadata:            sc.metadata,
		}
		if err := g.store.CreateGoal(goal); err != nil {
			return nil, fmt.Errorf("goalgen: create goal %q: %w", sc.title, err)
		}
		g.log.Info("goalgen.goal_identified", "goal_id", goal.ID, "goal_type", goal.GoalType, "adjusted_impact", goal.AdjustedImpactScore)
		goals = append(goals, goal)
	}
	return goals, nil
}

func (g *Generator) score(c candidate) (scored, error) {
	base := 100 * (0.20*clamp01(c.frequency) +
		0.25*clamp01(c.severity) +
		0.20*clamp01(c.costSavings) +
		0.20*clamp01(c.knowledgeGap) +
		0.15*clamp01(c.strategicValue))

	factor := 1.0
	if g.feedback != nil {
		var err error
		factor, err = g.feedback.Adjust(c.goalType)
		if err != nil {
			return scored{}, err
		}
	}

	adjusted := math.Max(0, math.Min(100, base*factor))
	return scored{candidate: c, baseImpact: base, adjustedImpact: adjusted}, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
