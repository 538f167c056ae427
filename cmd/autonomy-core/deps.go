package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fablab/autonomy-core/internal/approval"
	"github.com/fablab/autonomy-core/internal/clock"
	"github.com/fablab/autonomy-core/internal/collab"
	"github.com/fablab/autonomy-core/internal/config"
	"github.com/fablab/autonomy-core/internal/engine"
	"github.com/fablab/autonomy-core/internal/executor"
	"github.com/fablab/autonomy-core/internal/feedback"
	"github.com/fablab/autonomy-core/internal/goalgen"
	"github.com/fablab/autonomy-core/internal/lock"
	"github.com/fablab/autonomy-core/internal/metrics"
	"github.com/fablab/autonomy-core/internal/outcome"
	"github.com/fablab/autonomy-core/internal/resourcegate"
	"github.com/fablab/autonomy-core/internal/scheduler"
	"github.com/fablab/autonomy-core/internal/store"
	"github.com/fablab/autonomy-core/internal/taskhandlers"
	"github.com/fablab/autonomy-core/internal/workflowrt"
	"github.com/prometheus/client_golang/prometheus"
	"go.temporal.io/sdk/client"
)

// deps is every component wired from one loaded config, shared by the
// serve command and the direct-invocation subcommands (approve-goal,
// reject-goal, goals, effectiveness) so a one-shot CLI call sees the
// exact same store and budget/idle gate a running server would.
type deps struct {
	cfg *config.Config
	log *slog.Logger

	st          *store.Store
	locker      *lock.Locker
	idleSensor  *clock.IdleSensor
	gate        *resourcegate.Gate
	metrics     *metrics.Registry
	collab      *collab.InProcess
	fabrication collab.FabricationCollaborator
	feedback    *feedback.Loop
	goalgen     *goalgen.Generator
	engine      *engine.Engine
	workflow    *approval.Workflow
	outcome     *outcome.Tracker
	executor    *executor.Executor
	scheduler   *scheduler.Scheduler
}

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildDeps loads configuration and wires every subsystem, without
// starting any background loop — callers that only need one-shot store
// access (goal listing, approve/reject) still get a correctly
// budget/idle-gated engine, but Run/Start are left to the caller.
func buildDeps(devLog bool) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("autonomy-core: load config: %w", err)
	}
	log := configureLogger(cfg.General.LogLevel, devLog)

	dbPath := cfg.Store.URL
	if dbPath == "" {
		dbPath = "autonomy-core.db"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("autonomy-core: open store: %w", err)
	}

	locker, err := lock.New(st.DB())
	if err != nil {
		return nil, fmt.Errorf("autonomy-core: open lock: %w", err)
	}

	idleThresholds := clock.DefaultThresholds()
	idleThresholds.CPUPercent = cfg.Idle.CPUPercent
	idleThresholds.MemPercent = cfg.Idle.MemPercent
	idleThresholds.UserIdleWindow = time.Duration(cfg.Idle.ThresholdMinutes) * time.Minute
	idleSensor := clock.NewIdleSensor(clock.NewProcSampler(), idleThresholds)

	reg := metrics.New(prometheus.DefaultRegisterer)

	gateCfg := resourcegate.DefaultConfig()
	gateCfg.AutonomyEnabled = cfg.Budget.AutonomyEnabled
	gateCfg.DailyBudgetUSD = cfg.Budget.DailyUSD
	gateCfg.SchedulerMode = cfg.Scheduler.Mode
	if tz, tzErr := loadLocation(cfg.Scheduler.Timezone); tzErr == nil {
		gateCfg.Timezone = tz
	}
	gate := resourcegate.New(gateCfg, idleSensor, st, nil, reg)

	inproc := collab.NewInProcess(log)

	var fabrication collab.FabricationCollaborator = inproc
	if cfg.Exec.Sandbox == "docker" {
		dockerFab, err := collab.NewDockerFabrication(cfg.Exec.SandboxImage, log)
		if err != nil {
			return nil, fmt.Errorf("autonomy-core: docker fabrication sandbox: %w", err)
		}
		fabrication = dockerFab
	}

	feedbackLoop := feedback.New(st, feedback.Config{
		MinSamples:    cfg.Feedback.MinSamples,
		AdjustmentMax: cfg.Feedback.AdjustmentMax,
	})

	genCfg := goalgen.DefaultConfig()
	genCfg.LookbackDays = cfg.Outcome.WindowDays
	gen := goalgen.New(st, inproc, feedbackLoop, genCfg, log)

	eng := engine.New(st, inproc, log)
	workflow := approval.New(eng, st, temporalApprovalSink(log), log)

	outcomeCfg := outcome.Config{WindowDays: cfg.Outcome.WindowDays}
	tracker := outcome.New(st, inproc, outcomeCfg, log)

	execCfg := executor.DefaultConfig()
	exec := executor.New(st, locker, execCfg, log, reg)
	taskhandlers.Register(exec, taskhandlers.Deps{
		Research:    inproc,
		KB:          inproc,
		Fabrication: fabrication,
		KBStore:     st,
		PrintStore:  st,
		Log:         log,
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickInterval = cfg.General.TickInterval.Duration
	sched := scheduler.New(st, gate, locker, schedCfg, log)
	scheduler.RegisterCoreJobs(sched, gen, tracker, exec, locker, log)

	return &deps{
		cfg: cfg, log: log,
		st: st, locker: locker, idleSensor: idleSensor, gate: gate,
		metrics: reg, collab: inproc, fabrication: fabrication, feedback: feedbackLoop,
		goalgen: gen, engine: eng, workflow: workflow, outcome: tracker,
		executor: exec, scheduler: sched,
	}, nil
}

func (d *deps) close() {
	if d.st != nil {
		d.st.DB().Close()
	}
}

func loadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// temporalApprovalSink reaches the durable project workflow from the
// same place the Approval Workflow decides: it starts that project's
// ProjectWorkflow and immediately signals it approved, so the
// HTTP-triggered decision and the Temporal-durable execution path agree
// about a project's status without the executor's poll loop and the
// workflow racing each other over who decided. Dialing Temporal lazily
// here, rather than holding an open client for the process lifetime,
// keeps one-shot CLI commands (approve-goal, reject-goal) from failing
// when no Temporal server is reachable — the executor's poll loop
// still drives the project either way.
func temporalApprovalSink(log *slog.Logger) approval.Sink {
	return func(e approval.Event) {
		if e.Decision != "approved" || e.ProjectID == "" {
			return
		}
		hostPort := temporalHostPort
		if hostPort == "" {
			hostPort = "127.0.0.1:7233"
		}
		c, err := client.Dial(client.Options{HostPort: hostPort, Namespace: temporalNS})
		if err != nil {
			log.Warn("autonomy-core.temporal_unavailable_for_signal", "error", err)
			return
		}
		defer c.Close()

		if _, err := workflowrt.StartProjectWorkflow(c, workflowrt.ProjectWorkflowInput{ProjectID: e.ProjectID, GoalID: e.GoalID}); err != nil {
			log.Error("autonomy-core.start_project_workflow_failed", "project_id", e.ProjectID, "error", err)
			return
		}
		if err := workflowrt.SignalApproval(c, e.ProjectID, true, e.Approver); err != nil {
			log.Error("autonomy-core.signal_approval_failed", "project_id", e.ProjectID, "error", err)
		}
	}
}
