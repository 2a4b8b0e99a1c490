// Package application hosts the execution orchestrator and the health probe
// of the process-plugin runtime.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sherifabdlnaby/gpool"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
	"github.com/flowplane/flowplane/internal/infrastructure/loader"
)

// Request is one inbound operation call.
type Request struct {
	OperationID   string
	ProductID     string
	Channel       string
	CorrelationID string
	Business      process.BusinessContext
	Input         map[string]any
}

// Orchestrator turns inbound operation requests into process results. It
// chains mapping resolution, registry lookup, gating, validation, bounded
// execution and result decoration, and emits timing to the collaborators.
type Orchestrator struct {
	registry ports.Registry
	resolver ports.MappingResolver
	loaders  *loader.Manager
	metrics  ports.MetricsSink
	events   ports.EventPublisher
	features ports.FeatureChecker
	logger   *slog.Logger

	execTimeout time.Duration
	execPool    *gpool.Pool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExecutionTimeout bounds each plugin execution call.
func WithExecutionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.execTimeout = d }
}

// WithMetrics wires the metrics sink collaborator.
func WithMetrics(m ports.MetricsSink) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEvents wires the event publisher collaborator.
func WithEvents(e ports.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = e }
}

// WithFeatureChecker wires the feature flag collaborator.
func WithFeatureChecker(f ports.FeatureChecker) Option {
	return func(o *Orchestrator) { o.features = f }
}

// New creates an orchestrator. The execution pool bounds concurrent plugin
// executions separately from the loaders' blocking-work pool.
func New(registry ports.Registry, resolver ports.MappingResolver, loaders *loader.Manager, execPool *gpool.Pool, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry:    registry,
		resolver:    resolver,
		loaders:     loaders,
		logger:      logger.With("component", "orchestrator"),
		execTimeout: 30 * time.Second,
		execPool:    execPool,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteProcess drives one operation request end to end. Failures are
// always surfaced as a typed result, never thrown past this boundary.
func (o *Orchestrator) ExecuteProcess(ctx context.Context, req Request) process.Result {
	started := time.Now()

	mapping, plugin, result := o.resolve(ctx, req)
	if result != nil {
		return o.finish(*result, req.OperationID, process.GenerateExecutionID(), started)
	}

	execCtx := process.NewExecutionContext(req.Business, mapping, req.Input)
	execCtx.CorrelationID = req.CorrelationID
	md := plugin.Metadata()

	o.recordStart(md.ProcessID, execCtx.ExecutionID)

	if md.Deprecated {
		o.logger.Warn("executing deprecated process",
			"process_id", md.ProcessID, "version", md.Version, "replaced_by", md.ReplacedBy)
	}

	if denied := o.gate(md, req.Business); denied != nil {
		return o.finish(*denied, md.ProcessID, execCtx.ExecutionID, started)
	}

	validation, err := plugin.Validate(ctx, execCtx, req.Input)
	if err != nil {
		return o.finish(o.classify(md.ProcessID, err), md.ProcessID, execCtx.ExecutionID, started)
	}
	if !validation.Valid {
		// Execute is never invoked when validation fails.
		return o.finish(process.ValidationError(validation.Errors), md.ProcessID, execCtx.ExecutionID, started)
	}

	result2, err := o.executeBounded(ctx, plugin, execCtx, req.Input)
	if err != nil {
		return o.finish(o.classify(md.ProcessID, err), md.ProcessID, execCtx.ExecutionID, started)
	}
	return o.finish(result2, md.ProcessID, execCtx.ExecutionID, started)
}

// CompensateProcess undoes a previously executed process when the plugin
// declares the compensate capability. Gating rules match execution.
func (o *Orchestrator) CompensateProcess(ctx context.Context, req Request) process.Result {
	started := time.Now()

	mapping, plugin, result := o.resolve(ctx, req)
	if result != nil {
		return o.finish(*result, req.OperationID, process.GenerateExecutionID(), started)
	}

	execCtx := process.NewExecutionContext(req.Business, mapping, req.Input)
	execCtx.CorrelationID = req.CorrelationID
	md := plugin.Metadata()
	o.recordStart(md.ProcessID, execCtx.ExecutionID)

	if denied := o.gate(md, req.Business); denied != nil {
		return o.finish(*denied, md.ProcessID, execCtx.ExecutionID, started)
	}

	compensated, err := plugin.Compensate(ctx, execCtx, req.Input)
	if err != nil {
		return o.finish(o.classify(md.ProcessID, err), md.ProcessID, execCtx.ExecutionID, started)
	}
	return o.finish(compensated, md.ProcessID, execCtx.ExecutionID, started)
}

// resolve maps the operation to a plugin. A nil result pointer means
// success; otherwise it carries the typed failure to return.
func (o *Orchestrator) resolve(ctx context.Context, req Request) (process.Mapping, process.Plugin, *process.Result) {
	mapping, found, err := o.resolver.Resolve(ctx, req.Business.TenantID, req.OperationID, req.ProductID, req.Channel)
	if err != nil {
		r := process.TechnicalError(process.CodeExecutionFailed,
			fmt.Sprintf("mapping resolution for operation %q failed", req.OperationID), err)
		return process.Mapping{}, nil, &r
	}
	if !found {
		r := process.TechnicalError(process.CodeProcessNotFound,
			fmt.Sprintf("no process mapping for operation %q", req.OperationID), nil)
		return process.Mapping{}, nil, &r
	}

	plugin, ok := o.registry.Get(mapping.ProcessID, mapping.Version)
	if !ok {
		// First miss triggers an on-demand load attempt (remote plugins are
		// fetched lazily), then the miss is surfaced.
		plugin, err = o.loaders.LoadOnDemand(ctx, mapping.ProcessID)
		if err != nil {
			r := o.classify(mapping.ProcessID, err)
			if r.ErrorCode == process.CodeExecutionFailed {
				r = process.TechnicalError(process.CodeProcessNotFound,
					fmt.Sprintf("process %q (version %q) is not loaded", mapping.ProcessID, mapping.Version), err)
			}
			return process.Mapping{}, nil, &r
		}
	}
	return mapping, plugin, nil
}

// gate enforces the declared requirements in order, short-circuiting on the
// first failure: all permissions, else any role, then every feature flag.
func (o *Orchestrator) gate(md process.Metadata, business process.BusinessContext) *process.Result {
	if len(md.RequiredPermissions) > 0 {
		for _, perm := range md.RequiredPermissions {
			if !business.HasPermission(perm) {
				r := process.BusinessError(process.CodeAccessDenied,
					fmt.Sprintf("missing required permission %q", perm))
				return &r
			}
		}
	} else if len(md.RequiredRoles) > 0 {
		anyRole := false
		for _, role := range md.RequiredRoles {
			if business.HasRole(role) {
				anyRole = true
				break
			}
		}
		if !anyRole {
			r := process.BusinessError(process.CodeAccessDenied,
				fmt.Sprintf("none of the required roles %v are held", md.RequiredRoles))
			return &r
		}
	}

	for _, feature := range md.RequiredFeatures {
		if o.features == nil || !o.features.IsEnabled(business.TenantID, feature) {
			r := process.BusinessError(process.CodeAccessDenied,
				fmt.Sprintf("feature %q is not enabled for tenant %q", feature, business.TenantID))
			return &r
		}
	}
	return nil
}

// executeBounded runs the plugin on the execution pool under the configured
// timeout. A timeout cancels only the in-flight call, not the pipeline.
func (o *Orchestrator) executeBounded(ctx context.Context, plugin process.Plugin, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
	execContext, cancel := context.WithTimeout(ctx, o.execTimeout)
	defer cancel()

	type outcome struct {
		result process.Result
		err    error
	}
	done := make(chan outcome, 1)

	run := func() {
		result, err := plugin.Execute(execContext, execCtx, input)
		done <- outcome{result: result, err: err}
	}
	if o.execPool != nil {
		if err := o.execPool.Enqueue(execContext, run); err != nil {
			return process.Result{}, err
		}
	} else {
		go run()
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-execContext.Done():
		return process.Result{}, execContext.Err()
	}
}

// classify maps an error to the business/technical taxonomy. Technical
// results retain the fault; business results never leak it.
func (o *Orchestrator) classify(processID string, err error) process.Result {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		o.recordError(processID, process.CodeTimeout, err)
		return process.TechnicalError(process.CodeTimeout,
			fmt.Sprintf("process %q exceeded its execution timeout", processID), err)
	case errors.Is(err, context.Canceled):
		o.recordError(processID, process.CodeTimeout, err)
		return process.TechnicalError(process.CodeTimeout,
			fmt.Sprintf("execution of process %q was cancelled", processID), err)
	}

	var pe *process.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case process.CodeAccessDenied:
			o.recordError(processID, pe.Code, err)
			return process.BusinessError(pe.Code, pe.Message)
		case process.CodeValidationFailed:
			o.recordError(processID, pe.Code, err)
			return process.BusinessError(pe.Code, pe.Message)
		case process.CodeProcessNotFound:
			o.recordError(processID, process.CodeProcessNotFound, err)
			return process.TechnicalError(process.CodeProcessNotFound, pe.Message, err)
		default:
			o.recordError(processID, pe.Code, err)
			return process.TechnicalError(pe.Code, pe.Message, err)
		}
	}

	o.recordError(processID, process.CodeExecutionFailed, err)
	return process.TechnicalError(process.CodeExecutionFailed,
		fmt.Sprintf("process %q failed with %T: %v", processID, err, err), err)
}

// finish decorates the result with timing and emits completion telemetry.
// processID is the resolved plugin's id so start and complete records join;
// before resolution succeeds callers pass the operation id instead.
func (o *Orchestrator) finish(result process.Result, processID, executionID string, started time.Time) process.Result {
	decorated := result.WithTiming(executionID, time.Since(started))

	eventType := ports.EventExecutionCompleted
	if decorated.Status != process.StatusSuccess && decorated.Status != process.StatusPending {
		eventType = ports.EventExecutionFailed
	}
	o.publish(ports.Event{
		Type:        eventType,
		ProcessID:   processID,
		ExecutionID: executionID,
		Detail:      string(decorated.Status),
		Timestamp:   time.Now(),
	})
	o.recordComplete(processID, executionID, decorated.Elapsed, decorated.Status)
	return decorated
}

// Collaborator calls are fire-and-forget; a panicking sink must never take
// the orchestrator down.

func (o *Orchestrator) recordStart(processID, executionID string) {
	o.publish(ports.Event{
		Type:        ports.EventExecutionStarted,
		ProcessID:   processID,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
	})
	if o.metrics == nil {
		return
	}
	defer func() { _ = recover() }()
	o.metrics.RecordStart(processID, executionID)
}

func (o *Orchestrator) recordComplete(processID, executionID string, elapsed time.Duration, status process.Status) {
	if o.metrics == nil {
		return
	}
	defer func() { _ = recover() }()
	o.metrics.RecordComplete(processID, executionID, elapsed, status)
}

func (o *Orchestrator) recordError(processID string, code process.ErrorCode, err error) {
	if o.metrics == nil {
		return
	}
	defer func() { _ = recover() }()
	o.metrics.RecordError(processID, code, fmt.Sprintf("%T", err))
}

func (o *Orchestrator) publish(event ports.Event) {
	if o.events == nil {
		return
	}
	defer func() { _ = recover() }()
	o.events.Publish(event)
}
