// Package telemetry provides the default slog-backed metrics sink and event
// publisher, plus a static feature flag checker.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
)

// SlogMetrics records execution metrics as structured log lines and keeps
// running counters for the dashboard.
type SlogMetrics struct {
	logger *slog.Logger

	mu        sync.Mutex
	started   int64
	completed int64
	failed    int64
}

// NewSlogMetrics creates the default metrics sink.
func NewSlogMetrics(logger *slog.Logger) *SlogMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogMetrics{logger: logger.With("component", "metrics")}
}

func (m *SlogMetrics) RecordStart(processID, executionID string) {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
	m.logger.Debug("execution started", "process_id", processID, "execution_id", executionID)
}

func (m *SlogMetrics) RecordComplete(processID, executionID string, duration time.Duration, status process.Status) {
	m.mu.Lock()
	m.completed++
	m.mu.Unlock()
	m.logger.Info("execution complete",
		"process_id", processID, "execution_id", executionID,
		"duration_ms", duration.Milliseconds(), "status", status)
}

func (m *SlogMetrics) RecordError(processID string, code process.ErrorCode, errorType string) {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
	m.logger.Warn("execution error",
		"process_id", processID, "code", code, "error_type", errorType)
}

// Counters returns started/completed/failed totals.
func (m *SlogMetrics) Counters() (started, completed, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.completed, m.failed
}

var _ ports.MetricsSink = (*SlogMetrics)(nil)

// SlogEvents publishes runtime events as log lines and fans them out to
// subscribers over a buffered channel. A slow subscriber loses events
// rather than blocking the runtime.
type SlogEvents struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []chan ports.Event
}

// NewSlogEvents creates the default event publisher.
func NewSlogEvents(logger *slog.Logger) *SlogEvents {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEvents{logger: logger.With("component", "events")}
}

// Subscribe returns a channel receiving future events.
func (e *SlogEvents) Subscribe() <-chan ports.Event {
	ch := make(chan ports.Event, 64)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

func (e *SlogEvents) Publish(event ports.Event) {
	e.logger.Debug("event",
		"type", event.Type, "process_id", event.ProcessID,
		"version", event.Version, "detail", event.Detail)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- event:
		default: // drop instead of blocking
		}
	}
}

var _ ports.EventPublisher = (*SlogEvents)(nil)

// StaticFeatures answers feature flag checks from configuration. Flags can
// be enabled globally or per tenant.
type StaticFeatures struct {
	mu      sync.RWMutex
	global  map[string]bool
	tenants map[string]map[string]bool
}

// NewStaticFeatures creates a checker with the given global flags.
func NewStaticFeatures(global map[string]bool) *StaticFeatures {
	if global == nil {
		global = make(map[string]bool)
	}
	return &StaticFeatures{
		global:  global,
		tenants: make(map[string]map[string]bool),
	}
}

// SetTenant overrides a flag for one tenant.
func (f *StaticFeatures) SetTenant(tenantID, feature string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flags, ok := f.tenants[tenantID]
	if !ok {
		flags = make(map[string]bool)
		f.tenants[tenantID] = flags
	}
	flags[feature] = enabled
}

func (f *StaticFeatures) IsEnabled(tenantID, feature string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if flags, ok := f.tenants[tenantID]; ok {
		if enabled, ok := flags[feature]; ok {
			return enabled
		}
	}
	return f.global[feature]
}

var _ ports.FeatureChecker = (*StaticFeatures)(nil)
