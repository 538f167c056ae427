// Package clock provides the core's notion of time and of whether the
// host machine is currently idle. The resource gate reads time through
// a Clock so its tests can inject a fixed clock; other components call
// time.Now() directly.
package clock

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock provides monotonic/wall time. The default implementation wraps
// the standard library; tests substitute a fake.
type Clock interface {
	Now() time.Time
	LocalNow(tz *time.Location) time.Time
}

type systemClock struct{}

// System is the process-wide real clock.
var System Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) LocalNow(tz *time.Location) time.Time {
	if tz == nil {
		tz = time.UTC
	}
	return time.Now().In(tz)
}

// Sample is one reading of system load at an instant.
type Sample struct {
	At         time.Time
	CPUPercent float64
	MemPercent float64
	UserActive bool
}

// IdleThresholds configures the Idle Sensor's debounce window and
// resource ceilings, sourced from IDLE_THRESHOLD_MINUTES / CPU_IDLE_PCT
// / MEM_IDLE_PCT.
type IdleThresholds struct {
	CPUPercent     float64
	MemPercent     float64
	UserIdleWindow time.Duration
	SampleInterval time.Duration
}

func DefaultThresholds() IdleThresholds {
	return IdleThresholds{
		CPUPercent:     20,
		MemPercent:     70,
		UserIdleWindow: 120 * time.Minute,
		SampleInterval: 5 * time.Second,
	}
}

// Sampler produces Samples; the default reads /proc on Linux. No
// corpus example ships a cross-platform resource-sampling library
// (gopsutil et al. do not appear anywhere in the retrieval pack), so
// this one component is implemented directly against procfs rather
// than invented dependencies — see DESIGN.md.
type Sampler interface {
	Sample() (Sample, error)
}

// ProcSampler reads CPU and memory utilization from /proc and treats
// "user activity" as files under the configured activity directory
// having been touched within the idle window (e.g. a session lock
// file touched by an interactive shell hook).
type ProcSampler struct {
	ActivityPaths []string

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
	haveCPU   bool
}

func NewProcSampler(activityPaths ...string) *ProcSampler {
	return &ProcSampler{ActivityPaths: activityPaths}
}

func (p *ProcSampler) Sample() (Sample, error) {
	s := Sample{At: time.Now()}

	cpuPct, err := p.cpuPercent()
	if err == nil {
		s.CPUPercent = cpuPct
	}

	memPct, err := memPercent()
	if err == nil {
		s.MemPercent = memPct
	}

	s.UserActive = p.userActive()
	return s, nil
}

func (p *ProcSampler) cpuPercent() (float64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, scanner.Err()
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 8 || fields[0] != "cpu" {
		return 0, nil
	}

	var total uint64
	var vals [7]uint64
	for i := 0; i < 7; i++ {
		v, _ := strconv.ParseUint(fields[i+1], 10, 64)
		vals[i] = v
		total += v
	}
	idle := vals[3] + vals[4] // idle + iowait

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveCPU {
		p.prevIdle, p.prevTotal = idle, total
		p.haveCPU = true
		return 0, nil
	}

	deltaTotal := total - p.prevTotal
	deltaIdle := idle - p.prevIdle
	p.prevIdle, p.prevTotal = idle, total
	if deltaTotal == 0 {
		return 0, nil
	}
	busy := float64(deltaTotal-deltaIdle) / float64(deltaTotal)
	return busy * 100, nil
}

func memPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0, nil
	}
	used := total - available
	return (used / total) * 100, nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[1], 64)
	return v
}

func (p *ProcSampler) userActive() bool {
	for _, path := range p.ActivityPaths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < DefaultThresholds().UserIdleWindow {
			return true
		}
	}
	return false
}

// IdleSensor debounces a trailing window of Samples: it reports idle
// only once every sample in the window passes all three thresholds.
type IdleSensor struct {
	sampler    Sampler
	thresholds IdleThresholds

	mu      sync.Mutex
	history []sampleVerdict
	last    Sample
	haveAny bool
}

type sampleVerdict struct {
	at   time.Time
	idle bool
}

func NewIdleSensor(sampler Sampler, thresholds IdleThresholds) *IdleSensor {
	return &IdleSensor{sampler: sampler, thresholds: thresholds}
}

// Tick takes one sample and folds it into the trailing window. Call
// this on the sampler's SampleInterval from a background goroutine.
func (s *IdleSensor) Tick() error {
	sample, err := s.sampler.Sample()
	if err != nil {
		return err
	}

	passes := sample.CPUPercent < s.thresholds.CPUPercent &&
		sample.MemPercent < s.thresholds.MemPercent &&
		!sample.UserActive

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.haveAny = sample, true
	s.history = append(s.history, sampleVerdict{at: sample.At, idle: passes})

	cutoff := sample.At.Add(-s.thresholds.UserIdleWindow)
	trimmed := s.history[:0]
	for _, v := range s.history {
		if v.at.After(cutoff) {
			trimmed = append(trimmed, v)
		}
	}
	s.history = trimmed
	return nil
}

// IsIdle reports true only if every sample in the trailing window
// passed the thresholds, and at least one sample has been taken.
func (s *IdleSensor) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return false
	}
	for _, v := range s.history {
		if !v.idle {
			return false
		}
	}
	return true
}

// LastSample returns the most recently taken sample, for callers (like
// the resource gate) that need an instantaneous reading rather than the
// debounced idle verdict.
func (s *IdleSensor) LastSample() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.haveAny
}

// Run starts the sampling loop; blocks until stop is closed.
func (s *IdleSensor) Run(stop <-chan struct{}) {
	interval := s.thresholds.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = s.Tick()
		}
	}
}
