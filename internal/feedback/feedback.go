// Package feedback implements the experience-weighted adjustment the
// Goal Generator applies to a goal type's base impact score, learning
// purely from recorded outcomes — no goal type starts favored over any
// other.
package feedback

import (
	"fmt"

	"github.com/fablab/autonomy-core/internal/model"
)

const (
	neutralFactor = 1.0
	meanFloor     = 50.0
	meanCeil      = 75.0
)

// Config tunes the two knobs the environment-variable contract exposes:
// how many recorded outcomes are needed before the loop trusts them,
// and how far a saturated factor may swing from neutral.
type Config struct {
	MinSamples    int
	AdjustmentMax float64 // ceiling factor; the floor is its mirror below 1.0
}

func DefaultConfig() Config {
	return Config{MinSamples: 10, AdjustmentMax: 1.5}
}

// HistoryReader supplies the recent effectiveness scores recorded for a
// goal type, most recent first; satisfied by *store.Store.
type HistoryReader interface {
	EffectivenessHistory(goalType model.GoalType, limit int) ([]float64, error)
}

// Loop computes adjustment factors from recorded goal outcomes.
type Loop struct {
	history HistoryReader
	cfg     Config
}

func New(history HistoryReader, cfg Config) *Loop {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.AdjustmentMax <= 1.0 {
		cfg.AdjustmentMax = DefaultConfig().AdjustmentMax
	}
	return &Loop{history: history, cfg: cfg}
}

// Adjust returns a factor in [2-AdjustmentMax, AdjustmentMax] for
// goalType. With fewer than Config.MinSamples recorded effectiveness
// scores it returns 1.0 (neutral) rather than adjust on thin data.
func (l *Loop) Adjust(goalType model.GoalType) (float64, error) {
	scores, err := l.history.EffectivenessHistory(goalType, 1000)
	if err != nil {
		return 0, fmt.Errorf("feedback: adjust %s: %w", goalType, err)
	}
	if len(scores) < l.cfg.MinSamples {
		return neutralFactor, nil
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	return l.meanToFactor(mean), nil
}

// meanToFactor maps a mean effectiveness_score (0-100) to an adjustment
// factor: >=75 saturates at AdjustmentMax, <=50 saturates at its mirror
// below 1.0, linear between.
func (l *Loop) meanToFactor(mean float64) float64 {
	maxFactor := l.cfg.AdjustmentMax
	minFactor := 2.0 - maxFactor
	switch {
	case mean >= meanCeil:
		return maxFactor
	case mean <= meanFloor:
		return minFactor
	default:
		frac := (mean - meanFloor) / (meanCeil - meanFloor)
		return minFactor + frac*(maxFactor-minFactor)
	}
}
