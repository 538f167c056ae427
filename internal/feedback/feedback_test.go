package feedback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fablab/autonomy-core/internal/model"
)

type fakeHistory struct {
	scores []float64
}

func (f fakeHistory) EffectivenessHistory(model.GoalType, int) ([]float64, error) {
	return f.scores, nil
}

func TestAdjustReturnsNeutralBelowMinSamples(t *testing.T) {
	l := New(fakeHistory{scores: []float64{90, 90, 90}}, DefaultConfig())
	factor, err := l.Adjust(model.GoalImprovement)
	require.NoError(t, err)
	require.Equal(t, 1.0, factor)
}

func TestAdjustSaturatesAtCeiling(t *testing.T) {
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 80
	}
	l := New(fakeHistory{scores: scores}, DefaultConfig())
	factor, err := l.Adjust(model.GoalResearch)
	require.NoError(t, err)
	require.Equal(t, 1.5, factor)
}

func TestAdjustSaturatesAtFloor(t *testing.T) {
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 30
	}
	l := New(fakeHistory{scores: scores}, DefaultConfig())
	factor, err := l.Adjust(model.GoalOptimization)
	require.NoError(t, err)
	require.Equal(t, 0.5, factor)
}

func TestAdjustInterpolatesLinearly(t *testing.T) {
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 62.5 // halfway between 50 and 75
	}
	l := New(fakeHistory{scores: scores}, DefaultConfig())
	factor, err := l.Adjust(model.GoalLearning)
	require.NoError(t, err)
	require.InDelta(t, 1.0, factor, 1e-9)
}

func TestAdjustHonorsConfiguredMinSamples(t *testing.T) {
	// FEEDBACK_MIN_SAMPLES set to 3: exactly MinSamples-1 scores must
	// still return neutral, matching the configured boundary exactly.
	cfg := Config{MinSamples: 3, AdjustmentMax: 1.5}
	l := New(fakeHistory{scores: []float64{90, 90}}, cfg)
	factor, err := l.Adjust(model.GoalImprovement)
	require.NoError(t, err)
	require.Equal(t, 1.0, factor, "2 samples is below a configured MinSamples of 3")

	l = New(fakeHistory{scores: []float64{90, 90, 90}}, cfg)
	factor, err = l.Adjust(model.GoalImprovement)
	require.NoError(t, err)
	require.Equal(t, 1.5, factor, "3 samples meets a configured MinSamples of 3")
}

func TestAdjustHonorsConfiguredAdjustmentMax(t *testing.T) {
	// FEEDBACK_ADJUSTMENT_MAX set to 2.0: ceiling and floor must move off
	// the 1.5/0.5 defaults, and the floor must stay the mirror of the
	// ceiling around the neutral factor of 1.0.
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 80
	}
	l := New(fakeHistory{scores: scores}, Config{MinSamples: 10, AdjustmentMax: 2.0})
	factor, err := l.Adjust(model.GoalResearch)
	require.NoError(t, err)
	require.Equal(t, 2.0, factor)

	for i := range scores {
		scores[i] = 30
	}
	l = New(fakeHistory{scores: scores}, Config{MinSamples: 10, AdjustmentMax: 2.0})
	factor, err = l.Adjust(model.GoalOptimization)
	require.NoError(t, err)
	require.Equal(t, 0.0, factor)
}

func TestNewFallsBackToDefaultsForZeroConfig(t *testing.T) {
	// A zero-value Config (e.g. an unset config.Feedback block) must not
	// silently disable adjustment by treating MinSamples as 0 or
	// AdjustmentMax as 1.0 (no swing at all).
	l := New(fakeHistory{scores: []float64{90, 90, 90}}, Config{})
	require.Equal(t, DefaultConfig().MinSamples, l.cfg.MinSamples)
	require.Equal(t, DefaultConfig().AdjustmentMax, l.cfg.AdjustmentMax)
}
