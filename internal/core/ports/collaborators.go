package ports

import (
	"context"
	"time"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// MappingResolver resolves an operation id to a process mapping within the
// caller's tenant/product/channel dimensions. Implementations must be safe
// for concurrent use and may cache internally.
type MappingResolver interface {
	Resolve(ctx context.Context, tenantID, operationID, productID, channel string) (process.Mapping, bool, error)

	// Invalidate drops cached mappings for a tenant; empty string drops all.
	Invalidate(tenantID string)
}

// MetricsSink receives execution timing and status. Implementations are
// fire-and-forget and must never propagate a failure back into the
// orchestrator.
type MetricsSink interface {
	RecordStart(processID, executionID string)
	RecordComplete(processID, executionID string, duration time.Duration, status process.Status)
	RecordError(processID string, code process.ErrorCode, errorType string)
}

// EventType names a runtime lifecycle notification.
type EventType string

const (
	EventPluginRegistered   EventType = "plugin.registered"
	EventPluginUnregistered EventType = "plugin.unregistered"
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventHealthCheckFailed  EventType = "healthcheck.failed"
)

// Event is a best-effort runtime notification.
type Event struct {
	Type        EventType
	ProcessID   string
	Version     string
	ExecutionID string
	Detail      string
	Timestamp   time.Time
}

// EventPublisher emits runtime events. Best-effort and non-blocking; a slow
// or failing subscriber must not stall the runtime.
type EventPublisher interface {
	Publish(event Event)
}

// FeatureChecker answers whether a feature flag is enabled for a tenant.
type FeatureChecker interface {
	IsEnabled(tenantID, feature string) bool
}
