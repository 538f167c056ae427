package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
)

func TestCreateAndGetGoal(t *testing.T) {
	s := newTestStore(t)
	g := &model.Goal{
		Title:            "reduce first-layer adhesion failures",
		GoalType:         model.GoalImprovement,
		BaseImpactScore:  0.7,
		EstimatedCostUSD: 12.50,
		BudgetLimitUSD:   50,
		LearnFrom:        true,
		Metadata:         map[string]any{"source": "print_failure_cluster"},
	}
	require.NoError(t, s.CreateGoal(g))
	require.NotEmpty(t, g.ID)

	got, err := s.GetGoal(g.ID)
	require.NoError(t, err)
	require.Equal(t, model.GoalIdentified, got.Status)
	require.Equal(t, 1.0, got.AdjustmentFactor)
	if diff := cmp.Diff(g.Metadata, got.Metadata); diff != "" {
		t.Errorf("metadata round-trip mismatch (-created +got):\n%s", diff)
	}
}

func TestGetGoalNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGoal("does-not-exist")
	require.Error(t, err)
}

func TestListGoalsFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateGoal(&model.Goal{Title: "a", GoalType: model.GoalResearch}))
	require.NoError(t, s.CreateGoal(&model.Goal{Title: "b", GoalType: model.GoalResearch}))

	all, err := s.ListGoals("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	identified, err := s.ListGoals(model.GoalIdentified)
	require.NoError(t, err)
	require.Len(t, identified, 2)

	approved, err := s.ListGoals(model.GoalApproved)
	require.NoError(t, err)
	require.Empty(t, approved)
}

func TestUpdateAdjustedImpact(t *testing.T) {
	s := newTestStore(t)
	g := &model.Goal{Title: "a", GoalType: model.GoalLearning, BaseImpactScore: 1.0}
	require.NoError(t, s.CreateGoal(g))

	require.NoError(t, s.UpdateAdjustedImpact(g.ID, 0.8, 0.8))
	got, err := s.GetGoal(g.ID)
	require.NoError(t, err)
	require.Equal(t, 0.8, got.AdjustmentFactor)
	require.Equal(t, 0.8, got.AdjustedImpactScore)
}
