package goalgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
	"github.com/fablab/autonomy-core/internal/store"
)

type fakeStore struct {
	clusters    []store.FailureCluster
	totalPrints int
	slugs       map[string]bool
	created     []*model.Goal
}

func (f *fakeStore) FailureClusters(int) ([]store.FailureCluster, int, error) {
	return f.clusters, f.totalPrints, nil
}
func (f *fakeStore) ExistingKBSlugs() (map[string]bool, error) { return f.slugs, nil }
func (f *fakeStore) CreateGoal(g *model.Goal) error {
	g.ID = "goal-" + g.Title
	f.created = append(f.created, g)
	return nil
}

type fakeMetrics struct {
	fraction, total float64
}

func (f fakeMetrics) TierSpendFraction(context.Context, string, string) (float64, error) {
	return f.fraction, nil
}
func (f fakeMetrics) TotalSpend(context.Context, string, string) (float64, error) { return f.total, nil }

type fakeFeedback struct{ factor float64 }

func (f fakeFeedback) Adjust(model.GoalType) (float64, error) { return f.factor, nil }

func TestPrintFailureClusterAboveThresholdBecomesGoal(t *testing.T) {
	fs := &fakeStore{
		totalPrints: 10,
		clusters:    []store.FailureCluster{{Reason: "thermal_runaway", Count: 4, MeanCostPerFailure: 5}},
		slugs:       map[string]bool{},
	}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	g := New(fs, fakeMetrics{}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.Equal(t, model.GoalImprovement, goals[0].GoalType)
	require.Equal(t, "thermal_runaway", goals[0].Metadata["failure_reason"])
}

func TestClusterBelowMinSizeIsIgnored(t *testing.T) {
	fs := &fakeStore{
		totalPrints: 10,
		clusters:    []store.FailureCluster{{Reason: "bed_adhesion", Count: 2, MeanCostPerFailure: 5}},
		slugs:       map[string]bool{},
	}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	g := New(fs, fakeMetrics{}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, goals)
}

func TestKnowledgeGapProducesResearchCandidateForMissingSlug(t *testing.T) {
	fs := &fakeStore{slugs: map[string]bool{"pla-warping": true}}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	cfg.KnowledgeTopicSlugs = []string{"pla-warping", "petg-stringing"}
	g := New(fs, fakeMetrics{}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.Equal(t, model.GoalResearch, goals[0].GoalType)
	require.Equal(t, "petg-stringing", goals[0].Metadata["slug"])
}

func TestSpendMixAnomalyAboveThresholdAndFloorProducesOptimizationCandidate(t *testing.T) {
	fs := &fakeStore{slugs: map[string]bool{}}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	g := New(fs, fakeMetrics{fraction: 0.5, total: 20}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.Equal(t, model.GoalOptimization, goals[0].GoalType)
}

func TestSpendMixBelowFloorIsDiscardedEvenAboveThreshold(t *testing.T) {
	fs := &fakeStore{slugs: map[string]bool{}}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	g := New(fs, fakeMetrics{fraction: 0.9, total: 2}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, goals)
}

func TestCandidatesBelowMinimumAdjustedImpactAreDiscarded(t *testing.T) {
	fs := &fakeStore{slugs: map[string]bool{"x": false}}
	cfg := DefaultConfig()
	cfg.KnowledgeTopicSlugs = []string{"x"}
	// knowledge gap alone yields base = 100*(0.20*1.0 + 0.15*0.8) = 32, well under the default 50 floor.
	g := New(fs, fakeMetrics{}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, goals)
}

func TestWeeklyCapTruncatesLowestRankedCandidatesFirst(t *testing.T) {
	fs := &fakeStore{slugs: map[string]bool{}}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	cfg.WeeklyCap = 1
	cfg.KnowledgeTopicSlugs = []string{"a", "b"}
	g := New(fs, fakeMetrics{fraction: 0.5, total: 20}, fakeFeedback{factor: 1.0}, cfg, nil)

	goals, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, goals, 1)
}

func TestFeedbackFactorScalesAdjustedImpact(t *testing.T) {
	fs := &fakeStore{
		totalPrints: 10,
		clusters:    []store.FailureCluster{{Reason: "thermal_runaway", Count: 5, MeanCostPerFailure: 5}},
		slugs:       map[string]bool{},
	}
	cfg := DefaultConfig()
	cfg.MinAdjustedImpact = 0
	low := New(fs, fakeMetrics{}, fakeFeedback{factor: 0.5}, cfg, nil)
	high := New(fs, fakeMetrics{}, fakeFeedback{factor: 1.5}, cfg, nil)

	lowGoals, err := low.Run(context.Background())
	require.NoError(t, err)
	highGoals, err := high.Run(context.Background())
	require.NoError(t, err)

	require.Less(t, lowGoals[0].AdjustedImpactScore, highGoals[0].AdjustedImpactScore)
}
