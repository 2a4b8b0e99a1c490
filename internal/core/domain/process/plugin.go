// Package process defines the domain model of the process-plugin runtime:
// the plugin contract, metadata, descriptors, execution contexts and results.
package process

import "context"

// Capability names an optional behavior a plugin supports beyond Execute.
type Capability string

const (
	CapabilityExecute    Capability = "execute"
	CapabilityValidate   Capability = "validate"
	CapabilityCompensate Capability = "compensate"
	CapabilityHealth     Capability = "health"
)

// Plugin is the contract every process plugin implements. Identity is
// (ProcessID, Version) from its metadata. A plugin instance is immutable once
// loaded; hot reload replaces it wholesale, never mutates it in place.
type Plugin interface {
	// Metadata returns the plugin's load-time metadata. Read-only.
	Metadata() Metadata

	// Validate checks the typed input before execution. Implementations that
	// do not validate should return a valid result.
	Validate(ctx context.Context, execCtx *ExecutionContext, input map[string]any) (ValidationResult, error)

	// Execute runs the business process. The context carries the execution
	// deadline; implementations must honor cancellation.
	Execute(ctx context.Context, execCtx *ExecutionContext, input map[string]any) (Result, error)

	// Compensate undoes a previously executed process, when supported.
	Compensate(ctx context.Context, execCtx *ExecutionContext, input map[string]any) (Result, error)
}

// HealthChecker is implemented by plugins that expose a liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
