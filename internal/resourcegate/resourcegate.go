// Package resourcegate decides whether a workload class may run right
// now, consulting the autonomy flag, the budget ledger, the idle
// sensor, host resource pressure, and the scheduler's permitted window.
// It is consulted by the Scheduler before every job fire and by the
// HTTP API; task handlers do not consult it while they run.
package resourcegate

import (
	"time"

	"github.com/fablab/autonomy-core/internal/clock"
	"github.com/fablab/autonomy-core/internal/coreerr"
	"github.com/fablab/autonomy-core/internal/metrics"
	"github.com/fablab/autonomy-core/internal/model"
)

// SpendReader reports today's autonomous spend; satisfied by *store.Store.
type SpendReader interface {
	DailyAutonomousSpend(day time.Time) (float64, error)
	HasBudgetOverride(day string) (bool, error)
}

// Config holds the gate's tunables, sourced from the enumerated
// AUTONOMY_* environment variables.
type Config struct {
	AutonomyEnabled bool
	DailyBudgetUSD  float64

	// SchedulerMode is "dev" or "prod". In dev mode, exploration
	// workloads are additionally confined to NightlyWindowStart..End.
	SchedulerMode      string
	Timezone           *time.Location
	NightlyWindowStart int // local hour, inclusive
	NightlyWindowEnd   int // local hour, exclusive

	// Resource-pressure ceilings are stricter than the idle sensor's
	// own thresholds and apply per workload class.
	ScheduledCPUPressurePct   float64
	ScheduledMemPressurePct   float64
	ExplorationCPUPressurePct float64
	ExplorationMemPressurePct float64
}

func DefaultConfig() Config {
	return Config{
		AutonomyEnabled:           true,
		DailyBudgetUSD:            20,
		SchedulerMode:             "prod",
		Timezone:                  time.UTC,
		NightlyWindowStart:        1,
		NightlyWindowEnd:          6,
		ScheduledCPUPressurePct:   90,
		ScheduledMemPressurePct:   90,
		ExplorationCPUPressurePct: 50,
		ExplorationMemPressurePct: 80,
	}
}

// Gate implements the allows(workload_class) decision.
type Gate struct {
	cfg     Config
	idle    *clock.IdleSensor
	spend   SpendReader
	clk     clock.Clock
	metrics *metrics.Registry
}

// New wires a Gate. reg may be nil (e.g. in unit tests), in which case
// denials are simply not counted.
func New(cfg Config, idle *clock.IdleSensor, spend SpendReader, clk clock.Clock, reg *metrics.Registry) *Gate {
	if clk == nil {
		clk = clock.System
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	return &Gate{cfg: cfg, idle: idle, spend: spend, clk: clk, metrics: reg}
}

// Allows evaluates the admission rules in spec order and returns nil if
// the workload class may run now, or a *coreerr.Error carrying the
// denial reason otherwise.
func (g *Gate) Allows(workloadClass model.WorkloadClass) error {
	if err := g.allows(workloadClass); err != nil {
		if g.metrics != nil {
			g.metrics.ResourceGateDenials.WithLabelValues(string(coreerr.CodeOf(err))).Inc()
		}
		return err
	}
	return nil
}

func (g *Gate) allows(workloadClass model.WorkloadClass) error {
	if !g.cfg.AutonomyEnabled {
		return coreerr.New(coreerr.AutonomyDisabled, "autonomy is disabled")
	}

	today := g.clk.Now().UTC()
	spent, err := g.spend.DailyAutonomousSpend(today)
	if err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.BudgetSpentUSD.Set(spent)
	}
	if g.cfg.DailyBudgetUSD > 0 && spent >= g.cfg.DailyBudgetUSD {
		overridden, err := g.spend.HasBudgetOverride(g.clk.LocalNow(g.cfg.Timezone).Format("2006-01-02"))
		if err != nil {
			return err
		}
		if !overridden {
			return coreerr.New(coreerr.BudgetExhausted, "daily autonomous budget exhausted")
		}
	}

	if workloadClass == model.WorkloadExploration && g.idle != nil && !g.idle.IsIdle() {
		return coreerr.New(coreerr.NotIdle, "host is not idle")
	}

	if sample, ok := g.lastSample(); ok {
		cpuCeil, memCeil := g.pressureThresholds(workloadClass)
		if sample.CPUPercent > cpuCeil || sample.MemPercent > memCeil {
			return coreerr.New(coreerr.ResourcePressure, "host resource pressure exceeds threshold for this workload class")
		}
	}

	if workloadClass == model.WorkloadExploration && g.cfg.SchedulerMode == "dev" {
		hour := g.clk.LocalNow(g.cfg.Timezone).Hour()
		if !withinWindow(hour, g.cfg.NightlyWindowStart, g.cfg.NightlyWindowEnd) {
			return coreerr.New(coreerr.WindowClosed, "exploration is confined to the nightly window in dev mode")
		}
	}

	return nil
}

func (g *Gate) lastSample() (clock.Sample, bool) {
	if g.idle == nil {
		return clock.Sample{}, false
	}
	return g.idle.LastSample()
}

func (g *Gate) pressureThresholds(workloadClass model.WorkloadClass) (cpuPct, memPct float64) {
	if workloadClass == model.WorkloadExploration {
		return g.cfg.ExplorationCPUPressurePct, g.cfg.ExplorationMemPressurePct
	}
	return g.cfg.ScheduledCPUPressurePct, g.cfg.ScheduledMemPressurePct
}

// withinWindow reports whether hour falls in [start, end), wrapping
// past midnight when start > end (e.g. 22..6).
func withinWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
