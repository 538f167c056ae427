package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
)

func TestMeasureOutcomeIsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	_, err := s.ApproveGoal(g.ID, "a", "", sampleTasks(), map[string]any{"failure_rate": 0.2})
	require.NoError(t, err)

	require.NoError(t, s.MeasureOutcome(g.ID, map[string]any{"failure_rate": 0.05}, 0.8, 1.2, 0.9, 0.7, 0.85))

	outcome, err := s.GetOutcome(g.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome.MeasurementDate)
	require.Equal(t, 0.85, *outcome.EffectivenessScore)

	// A second measurement attempt must not overwrite the first.
	require.NoError(t, s.MeasureOutcome(g.ID, map[string]any{"failure_rate": 0.99}, 0, 0, 0, 0, 0))
	after, err := s.GetOutcome(g.ID)
	require.NoError(t, err)
	require.Equal(t, 0.85, *after.EffectivenessScore, "replayed measurement must not clobber the first result")
}

func TestGoalsDueForMeasurement(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s)
	_, err := s.ApproveGoal(g.ID, "a", "", sampleTasks(), nil)
	require.NoError(t, err)

	due, err := s.GoalsDueForMeasurement(30)
	require.NoError(t, err)
	require.Empty(t, due, "a goal approved moments ago is not yet due for a 30-day measurement")

	_, err = s.db.Exec(`UPDATE goals SET status = 'completed', baseline_captured_at = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -31), g.ID)
	require.NoError(t, err)

	due, err = s.GoalsDueForMeasurement(30)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, g.ID, due[0].ID)
}

func TestEffectivenessHistory(t *testing.T) {
	s := newTestStore(t)
	g := seedGoal(t, s) // seedGoal uses GoalOptimization
	_, err := s.ApproveGoal(g.ID, "a", "", sampleTasks(), nil)
	require.NoError(t, err)
	require.NoError(t, s.MeasureOutcome(g.ID, nil, 0, 0, 0, 0, 0.6))

	hist, err := s.EffectivenessHistory(model.GoalOptimization, 10)
	require.NoError(t, err)
	require.Equal(t, []float64{0.6}, hist)
}
