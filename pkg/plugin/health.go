package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// HealthThresholds are the fixed limits health derivation uses
type HealthThresholds struct {
	MaxErrorCount  int
	MaxMemoryBytes int64
	MaxCPUPercent  float64
	StaleAfter     time.Duration
}

// DefaultHealthThresholds returns the default limits
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MaxErrorCount:  5,
		MaxMemoryBytes: 256 << 20,
		MaxCPUPercent:  80,
		StaleAfter:     30 * time.Minute,
	}
}

// HealthConfig configures the periodic sweep
type HealthConfig struct {
	// Schedule is a cron expression; empty disables the sweep.
	Schedule string

	// Debounce coalesces sweep bursts.
	Debounce time.Duration

	Thresholds HealthThresholds
}

// snapshotSource provides the tracked performance snapshots to sweep
type snapshotSource func() map[string]PerformanceSnapshot

// degradedSink receives reports for degraded or erroring plugins
type degradedSink func(report HealthReport)

// HealthMonitor derives plugin health from performance snapshots on a
// debounced cron schedule. Sweep failures are swallowed and logged;
// the sweep never shares a blocking path with request handling.
type HealthMonitor struct {
	logger     zerolog.Logger
	thresholds HealthThresholds
	debounce   time.Duration
	source     snapshotSource
	sink       degradedSink

	cron    *cron.Cron
	mu      sync.Mutex
	lastRun time.Time
	reports map[string]HealthReport
}

// NewHealthMonitor creates a health monitor
func NewHealthMonitor(logger zerolog.Logger, cfg HealthConfig, source snapshotSource, sink degradedSink) *HealthMonitor {
	thresholds := cfg.Thresholds
	if thresholds == (HealthThresholds{}) {
		thresholds = DefaultHealthThresholds()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 10 * time.Second
	}
	return &HealthMonitor{
		logger:     logger.With().Str("component", "health-monitor").Logger(),
		thresholds: thresholds,
		debounce:   debounce,
		source:     source,
		sink:       sink,
		reports:    make(map[string]HealthReport),
	}
}

// Start schedules the periodic sweep. An empty schedule is a no-op.
func (m *HealthMonitor) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, m.Sweep); err != nil {
		return fmt.Errorf("invalid health check schedule %q: %w", schedule, err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	m.logger.Info().Str("schedule", schedule).Msg("Health check sweep started")
	return nil
}

// Stop halts the sweep timer
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}

// Sweep derives health for every tracked plugin. Bursts inside the
// debounce window are coalesced into the first run.
func (m *HealthMonitor) Sweep() {
	m.mu.Lock()
	if time.Since(m.lastRun) < m.debounce {
		m.mu.Unlock()
		return
	}
	m.lastRun = time.Now()
	m.mu.Unlock()

	defer func() {
		// Health check failures never surface to request paths
		if r := recover(); r != nil {
			m.logger.Error().Msg(fmt.Sprintf("Health sweep panicked: %v", r))
		}
	}()

	snapshots := m.source()
	for pluginID, snapshot := range snapshots {
		report := m.Compute(pluginID, snapshot)

		m.mu.Lock()
		previous, had := m.reports[pluginID]
		m.reports[pluginID] = report
		m.mu.Unlock()

		if report.State != HealthHealthy && (!had || previous.State == HealthHealthy) {
			m.logger.Warn().
				Str("plugin", pluginID).
				Str("state", string(report.State)).
				Int("score", report.Score).
				Strs("issues", report.Issues).
				Msg("Plugin health degraded")
			if m.sink != nil {
				m.sink(report)
			}
		}
	}
}

// Compute derives a health report from one performance snapshot
func (m *HealthMonitor) Compute(pluginID string, snapshot PerformanceSnapshot) HealthReport {
	score := 100
	var issues []string

	if snapshot.ErrorCount > 0 {
		penalty := snapshot.ErrorCount * 8
		if penalty > 60 {
			penalty = 60
		}
		score -= penalty
		issues = append(issues, fmt.Sprintf("%d recorded errors", snapshot.ErrorCount))
	}
	if m.thresholds.MaxMemoryBytes > 0 && snapshot.MemoryEstimate > m.thresholds.MaxMemoryBytes {
		score -= 20
		issues = append(issues, fmt.Sprintf("memory estimate %d exceeds limit %d", snapshot.MemoryEstimate, m.thresholds.MaxMemoryBytes))
	}
	if m.thresholds.MaxCPUPercent > 0 && snapshot.CPUEstimate > m.thresholds.MaxCPUPercent {
		score -= 20
		issues = append(issues, fmt.Sprintf("cpu estimate %.1f%% exceeds limit %.1f%%", snapshot.CPUEstimate, m.thresholds.MaxCPUPercent))
	}
	if m.thresholds.StaleAfter > 0 && !snapshot.LastActivity.IsZero() && time.Since(snapshot.LastActivity) > m.thresholds.StaleAfter {
		score -= 10
		issues = append(issues, "no recent activity")
	}
	if score < 0 {
		score = 0
	}

	state := HealthHealthy
	switch {
	case m.thresholds.MaxErrorCount > 0 && snapshot.ErrorCount > m.thresholds.MaxErrorCount:
		state = HealthError
	case score < 50:
		state = HealthError
	case score < 80:
		state = HealthDegraded
	}

	return HealthReport{
		PluginID: pluginID,
		State:    state,
		Score:    score,
		Issues:   issues,
		At:       time.Now(),
	}
}

// Report returns the last derived report for a plugin
func (m *HealthMonitor) Report(pluginID string) (HealthReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[pluginID]
	return report, ok
}

// Forget drops the tracked report for a plugin
func (m *HealthMonitor) Forget(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, pluginID)
}
