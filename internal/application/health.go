package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
)

// HealthReport aggregates registry counts and per-plugin probe outcomes.
type HealthReport struct {
	Healthy       bool
	ProcessCount  int
	VersionCount  int
	PluginResults map[string]error // key: processId@version, nil = healthy
	CheckedAt     time.Time
}

// HealthProbe runs health checks across every registered plugin that
// exposes one, each bounded by an independent timeout.
type HealthProbe struct {
	registry     ports.Registry
	events       ports.EventPublisher
	logger       *slog.Logger
	checkTimeout time.Duration
}

// NewHealthProbe creates a probe with the given per-plugin timeout.
func NewHealthProbe(registry ports.Registry, events ports.EventPublisher, checkTimeout time.Duration, logger *slog.Logger) *HealthProbe {
	if logger == nil {
		logger = slog.Default()
	}
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &HealthProbe{
		registry:     registry,
		events:       events,
		logger:       logger.With("component", "health-probe"),
		checkTimeout: checkTimeout,
	}
}

// Check probes every registered plugin. Plugins without a health check
// count as healthy.
func (h *HealthProbe) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:       true,
		ProcessCount:  h.registry.Size(),
		VersionCount:  h.registry.VersionCount(),
		PluginResults: make(map[string]error),
		CheckedAt:     time.Now(),
	}

	for _, plugin := range h.registry.GetAll() {
		md := plugin.Metadata()
		checker, ok := plugin.(process.HealthChecker)
		if !ok {
			report.PluginResults[md.Key()] = nil
			continue
		}

		err := h.checkOne(ctx, checker)
		report.PluginResults[md.Key()] = err
		if err != nil {
			report.Healthy = false
			h.logger.Warn("plugin health check failed",
				"process_id", md.ProcessID, "version", md.Version, "error", err)
			if h.events != nil {
				h.events.Publish(ports.Event{
					Type:      ports.EventHealthCheckFailed,
					ProcessID: md.ProcessID,
					Version:   md.Version,
					Detail:    err.Error(),
					Timestamp: time.Now(),
				})
			}
		}
	}
	return report
}

func (h *HealthProbe) checkOne(ctx context.Context, checker process.HealthChecker) error {
	checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- checker.HealthCheck(checkCtx) }()

	select {
	case err := <-done:
		return err
	case <-checkCtx.Done():
		return process.WrapError(process.CodeTimeout, "health check timed out", checkCtx.Err())
	}
}
