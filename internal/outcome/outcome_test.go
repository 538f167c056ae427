package outcome

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
)

var errNoOutcome = errors.New("no baseline recorded")

type fakeStore struct {
	due      []*model.Goal
	outcomes map[string]*model.GoalOutcome
	projects map[string]*model.Project
	measured map[string]measuredCall
}

type measuredCall struct {
	impact, roi, adoption, quality, effectiveness float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{outcomes: map[string]*model.GoalOutcome{}, projects: map[string]*model.Project{}, measured: map[string]measuredCall{}}
}

func (f *fakeStore) GoalsDueForMeasurement(int) ([]*model.Goal, error) { return f.due, nil }
func (f *fakeStore) GetOutcome(goalID string) (*model.GoalOutcome, error) {
	o, ok := f.outcomes[goalID]
	if !ok {
		return nil, errNoOutcome
	}
	return o, nil
}
func (f *fakeStore) GetProjectByGoal(goalID string) (*model.Project, error) {
	return f.projects[goalID], nil
}
func (f *fakeStore) MeasureOutcome(goalID string, outcomeMetrics map[string]any, impact, roi, adoption, quality, effectiveness float64) error {
	f.measured[goalID] = measuredCall{impact, roi, adoption, quality, effectiveness}
	return nil
}

type fakeMetrics struct {
	materialsCount int
	failures       map[string]int
	tierFraction   float64
}

func (f fakeMetrics) MaterialsCountForSlug(context.Context, string) (int, error) {
	return f.materialsCount, nil
}
func (f fakeMetrics) FailuresByReason(context.Context, string, string) (map[string]int, error) {
	return f.failures, nil
}
func (f fakeMetrics) TierSpendFraction(context.Context, string, string) (float64, error) {
	return f.tierFraction, nil
}
func (f fakeMetrics) TotalSpend(context.Context, string, string) (float64, error) { return 0, nil }

func TestMeasureDueScoresResearchGoal(t *testing.T) {
	s := newFakeStore()
	s.due = []*model.Goal{{ID: "g1", GoalType: model.GoalResearch, Metadata: map[string]any{"slug": "bed-leveling"}}}
	s.outcomes["g1"] = &model.GoalOutcome{GoalID: "g1", BaselineMetrics: map[string]any{"kb_article_count_for_slug": 0}}
	s.projects["g1"] = &model.Project{ActualCostUSD: 10}

	tr := New(s, fakeMetrics{materialsCount: 1}, DefaultConfig(), nil)
	measured, err := tr.MeasureDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, measured)

	call := s.measured["g1"]
	require.Equal(t, 1.0, call.impact)
	require.Equal(t, 1.0, call.adoption)
	require.Equal(t, 0.5, call.quality)
	require.Greater(t, call.effectiveness, 0.0)
}

func TestMeasureDueScoresImprovementGoalByFailureReduction(t *testing.T) {
	s := newFakeStore()
	s.due = []*model.Goal{{ID: "g2", GoalType: model.GoalImprovement, Metadata: map[string]any{"failure_reason": "thermal_runaway"}}}
	s.outcomes["g2"] = &model.GoalOutcome{GoalID: "g2", BaselineMetrics: map[string]any{"failure_count_30d_for_reason": 10}}
	s.projects["g2"] = &model.Project{ActualCostUSD: 20}

	tr := New(s, fakeMetrics{failures: map[string]int{"thermal_runaway": 4}}, DefaultConfig(), nil)
	_, err := tr.MeasureDue(context.Background())
	require.NoError(t, err)

	call := s.measured["g2"]
	require.InDelta(t, 0.6, call.impact, 1e-9)
	require.Equal(t, 1.0, call.adoption)
}

func TestMeasureDueZeroBaselineYieldsZeroImpactNotDivideByZero(t *testing.T) {
	s := newFakeStore()
	s.due = []*model.Goal{{ID: "g3", GoalType: model.GoalImprovement, Metadata: map[string]any{"failure_reason": "x"}}}
	s.outcomes["g3"] = &model.GoalOutcome{GoalID: "g3", BaselineMetrics: map[string]any{"failure_count_30d_for_reason": 0}}
	s.projects["g3"] = &model.Project{ActualCostUSD: 5}

	tr := New(s, fakeMetrics{failures: map[string]int{"x": 0}}, DefaultConfig(), nil)
	_, err := tr.MeasureDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, s.measured["g3"].impact)
}

func TestSaturatingROIFallsAsCostRisesForFixedImpact(t *testing.T) {
	cheap := saturatingROI(1.0, 25, 5)
	expensive := saturatingROI(1.0, 25, 500)
	require.Greater(t, cheap, expensive, "the same impact at higher cost must score lower ROI")
	require.Greater(t, cheap, 0.0)
	require.Greater(t, expensive, 0.0)
}

func TestMeasureDueResearchGoalROIRespondsToActualCost(t *testing.T) {
	s := newFakeStore()
	s.due = []*model.Goal{{ID: "g6", GoalType: model.GoalResearch, Metadata: map[string]any{"slug": "bed-leveling"}}}
	s.outcomes["g6"] = &model.GoalOutcome{GoalID: "g6", BaselineMetrics: map[string]any{"kb_article_count_for_slug": 0}}
	s.projects["g6"] = &model.Project{ActualCostUSD: 1000}

	tr := New(s, fakeMetrics{materialsCount: 1}, DefaultConfig(), nil)
	_, err := tr.MeasureDue(context.Background())
	require.NoError(t, err)

	call := s.measured["g6"]
	require.Equal(t, 1.0, call.impact)
	require.Less(t, call.roi, 0.1, "a goal that cost far more than its configured value per impact point must score near-zero ROI")
}

func TestMeasureDueSkipsGoalsWithoutBaseline(t *testing.T) {
	s := newFakeStore()
	s.due = []*model.Goal{
		{ID: "g4", GoalType: model.GoalResearch},
		{ID: "g5", GoalType: model.GoalResearch, Metadata: map[string]any{"slug": "ok"}},
	}
	s.outcomes["g5"] = &model.GoalOutcome{GoalID: "g5", BaselineMetrics: map[string]any{}}
	s.projects["g5"] = &model.Project{ActualCostUSD: 1}
	// g4 has no outcome row registered; the tracker logs and skips it rather
	// than failing the whole batch.

	tr := New(s, fakeMetrics{materialsCount: 1}, DefaultConfig(), nil)
	measured, err := tr.MeasureDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, measured)
	require.Contains(t, s.measured, "g5")
}
