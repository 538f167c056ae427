// Package config loads and validates the autonomy core's runtime
// configuration: a TOML file for the tunables that have sane defaults,
// overlaid by a fixed set of environment variables forming the startup
// contract. A variable in that set that is present but unparsable, or
// required and absent, fails startup rather than silently falling back.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fablab/autonomy-core/internal/coreerr"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the process-wide tunable set. Every field here has a
// TOML key (for file-based defaults) and, where one is defined, an
// environment variable that overrides it at startup.
type Config struct {
	General   General   `toml:"general"`
	Budget    Budget    `toml:"budget"`
	Idle      Idle      `toml:"idle"`
	Outcome   Outcome   `toml:"outcome"`
	Feedback  Feedback  `toml:"feedback"`
	Scheduler Scheduler `toml:"scheduler"`
	Store     Store     `toml:"store"`
	API       API       `toml:"api"`
	Exec      Exec      `toml:"exec"`
}

// API configures the external-interfaces HTTP surface.
type API struct {
	Bind     string      `toml:"bind"`
	Security APISecurity `toml:"security"`
}

type APISecurity struct {
	Enabled          bool     `toml:"enabled"`
	AllowedTokens    []string `toml:"allowed_tokens"`
	RequireLocalOnly bool     `toml:"require_local_only"`
	AuditLog         string   `toml:"audit_log"`
}

type General struct {
	TickInterval Duration `toml:"tick_interval"`
	LogLevel     string   `toml:"log_level"`
}

type Budget struct {
	AutonomyEnabled bool    `toml:"autonomy_enabled"`
	DailyUSD        float64 `toml:"daily_usd"`
	PerQueryUSD     float64 `toml:"per_query_usd"`
}

type Idle struct {
	ThresholdMinutes int     `toml:"threshold_minutes"`
	CPUPercent       float64 `toml:"cpu_pct"`
	MemPercent       float64 `toml:"mem_pct"`
}

type Outcome struct {
	WindowDays int `toml:"window_days"`
}

type Feedback struct {
	MinSamples    int     `toml:"min_samples"`
	AdjustmentMax float64 `toml:"adjustment_max"`
}

type Scheduler struct {
	Timezone string `toml:"timezone"`
	Mode     string `toml:"mode"` // "dev" or "prod"
}

// Exec selects how the Fabrication collaborator runs print jobs.
// "inprocess" (default) runs them in this process; "docker" runs each
// print job in a throwaway container built from SandboxImage. The
// Research collaborator always runs in this process.
type Exec struct {
	Sandbox      string `toml:"sandbox"`
	SandboxImage string `toml:"sandbox_image"`
}

// Store points at the shared SQLite database both the persistent
// store and the distributed lock open their connections against; the
// lock's rows live alongside the store's own tables rather than in a
// separate external KV, see internal/lock.
type Store struct {
	URL string `toml:"url"`
}

// Clone returns a deep copy. Every field but API.Security.AllowedTokens
// is a value type; that one slice is copied explicitly so a caller
// mutating its own snapshot can never perturb another reader's.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	if cfg.API.Security.AllowedTokens != nil {
		cloned.API.Security.AllowedTokens = append([]string(nil), cfg.API.Security.AllowedTokens...)
	}
	return &cloned
}

// Default returns the baseline configuration before any file or
// environment overlay is applied.
func Default() *Config {
	return &Config{
		General: General{TickInterval: Duration{30 * time.Second}, LogLevel: "info"},
		Budget:  Budget{AutonomyEnabled: true, DailyUSD: 20, PerQueryUSD: 2},
		Idle:    Idle{ThresholdMinutes: 120, CPUPercent: 20, MemPercent: 70},
		Outcome: Outcome{WindowDays: 30},
		Feedback: Feedback{
			MinSamples:    10,
			AdjustmentMax: 1.5,
		},
		Scheduler: Scheduler{Timezone: "UTC", Mode: "prod"},
		Store:     Store{URL: "autonomy-core.db"},
		API:       API{Bind: "127.0.0.1:8090"},
		Exec:      Exec{Sandbox: "inprocess"},
	}
}

// Load reads path if non-empty (TOML, missing file is not an error —
// the defaults stand), then applies the environment overlay, then
// validates. path may be "" to run on environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	var meta *toml.MetaData

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			md, err := toml.DecodeFile(path, cfg)
			if err != nil {
				return nil, coreerr.Wrap(coreerr.ConfigInvalid, "parsing config file "+path, err)
			}
			meta = &md
		} else if !os.IsNotExist(err) {
			return nil, coreerr.Wrap(coreerr.ConfigInvalid, "reading config file "+path, err)
		}
	}

	if err := applyEnvOverlay(cfg, meta); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVar describes one entry in the environment-variable startup
// contract: how to parse it, where it writes, and whether its absence
// (with no TOML value already set) fails startup.
type envVar struct {
	name     string
	required bool
	apply    func(cfg *Config, raw string) error
}

var envVars = []envVar{
	{"AUTONOMY_ENABLED", false, func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalidEnv("AUTONOMY_ENABLED", v, err)
		}
		c.Budget.AutonomyEnabled = b
		return nil
	}},
	{"DAILY_BUDGET_USD", true, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalidEnv("DAILY_BUDGET_USD", v, err)
		}
		c.Budget.DailyUSD = f
		return nil
	}},
	{"PER_QUERY_BUDGET_USD", true, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalidEnv("PER_QUERY_BUDGET_USD", v, err)
		}
		c.Budget.PerQueryUSD = f
		return nil
	}},
	{"IDLE_THRESHOLD_MINUTES", false, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalidEnv("IDLE_THRESHOLD_MINUTES", v, err)
		}
		c.Idle.ThresholdMinutes = n
		return nil
	}},
	{"CPU_IDLE_PCT", false, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalidEnv("CPU_IDLE_PCT", v, err)
		}
		c.Idle.CPUPercent = f
		return nil
	}},
	{"MEM_IDLE_PCT", false, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalidEnv("MEM_IDLE_PCT", v, err)
		}
		c.Idle.MemPercent = f
		return nil
	}},
	{"OUTCOME_WINDOW_DAYS", false, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalidEnv("OUTCOME_WINDOW_DAYS", v, err)
		}
		c.Outcome.WindowDays = n
		return nil
	}},
	{"FEEDBACK_MIN_SAMPLES", false, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalidEnv("FEEDBACK_MIN_SAMPLES", v, err)
		}
		c.Feedback.MinSamples = n
		return nil
	}},
	{"FEEDBACK_ADJUSTMENT_MAX", false, func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalidEnv("FEEDBACK_ADJUSTMENT_MAX", v, err)
		}
		c.Feedback.AdjustmentMax = f
		return nil
	}},
	{"SCHEDULER_TIMEZONE", false, func(c *Config, v string) error {
		c.Scheduler.Timezone = v
		return nil
	}},
	{"SCHEDULER_MODE", false, func(c *Config, v string) error {
		if v != "dev" && v != "prod" {
			return coreerr.New(coreerr.ConfigInvalid, "SCHEDULER_MODE must be \"dev\" or \"prod\", got "+v)
		}
		c.Scheduler.Mode = v
		return nil
	}},
	{"LOCK_KV_URL", false, func(c *Config, v string) error {
		// Accepted for forward compatibility with an external KV-backed
		// lock; the current lock implementation shares the store's own
		// SQLite connection and ignores this value.
		return nil
	}},
	{"STORE_URL", true, func(c *Config, v string) error {
		c.Store.URL = v
		return nil
	}},
	{"EXEC_SANDBOX", false, func(c *Config, v string) error {
		if v != "inprocess" && v != "docker" {
			return coreerr.New(coreerr.ConfigInvalid, "EXEC_SANDBOX must be \"inprocess\" or \"docker\", got "+v)
		}
		c.Exec.Sandbox = v
		return nil
	}},
	{"EXEC_SANDBOX_IMAGE", false, func(c *Config, v string) error {
		c.Exec.SandboxImage = v
		return nil
	}},
}

func applyEnvOverlay(cfg *Config, meta *toml.MetaData) error {
	var missing []string
	for _, ev := range envVars {
		raw, present := os.LookupEnv(ev.name)
		if !present {
			if ev.required && !hasFileDefault(meta, ev.name) {
				missing = append(missing, ev.name)
			}
			continue
		}
		if err := ev.apply(cfg, raw); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return coreerr.New(coreerr.ConfigMissing, "required environment variables not set: "+strings.Join(missing, ", "))
	}
	return nil
}

// hasFileDefault reports whether the TOML file explicitly set the key
// behind a required variable, letting a config file satisfy a
// "required" variable without the environment repeating it. meta is
// nil when no file was read.
func hasFileDefault(meta *toml.MetaData, name string) bool {
	if meta == nil {
		return false
	}
	switch name {
	case "DAILY_BUDGET_USD":
		return meta.IsDefined("budget", "daily_usd")
	case "PER_QUERY_BUDGET_USD":
		return meta.IsDefined("budget", "per_query_usd")
	case "STORE_URL":
		return meta.IsDefined("store", "url")
	default:
		return false
	}
}

func invalidEnv(name, value string, cause error) error {
	return coreerr.Wrap(coreerr.ConfigInvalid, fmt.Sprintf("environment variable %s has invalid value %q", name, value), cause)
}

func validate(cfg *Config) error {
	if cfg.Budget.DailyUSD < 0 {
		return coreerr.New(coreerr.ConfigInvalid, "budget.daily_usd must be >= 0")
	}
	if cfg.Budget.PerQueryUSD < 0 {
		return coreerr.New(coreerr.ConfigInvalid, "budget.per_query_usd must be >= 0")
	}
	if cfg.Outcome.WindowDays <= 0 {
		return coreerr.New(coreerr.ConfigInvalid, "outcome.window_days must be > 0")
	}
	if cfg.Feedback.MinSamples < 0 {
		return coreerr.New(coreerr.ConfigInvalid, "feedback.min_samples must be >= 0")
	}
	if cfg.Scheduler.Mode != "dev" && cfg.Scheduler.Mode != "prod" {
		return coreerr.New(coreerr.ConfigInvalid, "scheduler.mode must be \"dev\" or \"prod\"")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return coreerr.Wrap(coreerr.ConfigInvalid, "scheduler.timezone is not a valid IANA zone", err)
	}
	if strings.TrimSpace(cfg.Store.URL) == "" {
		return coreerr.New(coreerr.ConfigInvalid, "store.url is required")
	}
	if cfg.Exec.Sandbox != "inprocess" && cfg.Exec.Sandbox != "docker" {
		return coreerr.New(coreerr.ConfigInvalid, "exec.sandbox must be \"inprocess\" or \"docker\"")
	}
	if cfg.Exec.Sandbox == "docker" && strings.TrimSpace(cfg.Exec.SandboxImage) == "" {
		return coreerr.New(coreerr.ConfigInvalid, "exec.sandbox_image is required when exec.sandbox is \"docker\"")
	}
	return nil
}
