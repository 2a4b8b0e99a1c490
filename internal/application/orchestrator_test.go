package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
	"github.com/flowplane/flowplane/internal/infrastructure/loader"
	"github.com/flowplane/flowplane/internal/infrastructure/mapping"
	"github.com/flowplane/flowplane/internal/infrastructure/registry"
	"github.com/flowplane/flowplane/internal/infrastructure/telemetry"
)

// harness wires a real registry, resolver and embedded loader around the
// orchestrator, with call counters on the plugin under test.
type harness struct {
	orchestrator *Orchestrator
	registry     *registry.PluginRegistry
	resolver     *mapping.StaticResolver
	manager      *loader.Manager
	features     *telemetry.StaticFeatures

	validateCalls atomic.Int32
	executeCalls  atomic.Int32
}

func newHarness(t *testing.T, plugin *loader.FuncPlugin, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		registry: registry.New(nil),
		resolver: mapping.NewStaticResolver(),
		features: telemetry.NewStaticFeatures(map[string]bool{"instant-settlement": true}),
	}

	embedded := loader.NewEmbeddedLoader(0, h.registry, nil)
	if plugin != nil {
		md := plugin.Meta

		userValidate := plugin.ValidateFunc
		plugin.ValidateFunc = func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.ValidationResult, error) {
			h.validateCalls.Add(1)
			if userValidate == nil {
				return process.ValidOK(), nil
			}
			return userValidate(ctx, execCtx, input)
		}
		userExecute := plugin.ExecuteFunc
		plugin.ExecuteFunc = func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
			h.executeCalls.Add(1)
			if userExecute == nil {
				return process.Success(nil), nil
			}
			return userExecute(ctx, execCtx, input)
		}

		embedded.Add(plugin)
		h.resolver.AddRule(mapping.Rule{
			OperationID: "op.settle",
			ProcessID:   md.ProcessID,
			Version:     md.Version,
		})
	}

	h.manager = loader.NewManager(nil, embedded)
	_, err := embedded.Discover(context.Background())
	require.NoError(t, err)

	opts = append([]Option{WithFeatureChecker(h.features)}, opts...)
	h.orchestrator = New(h.registry, h.resolver, h.manager, nil, nil, opts...)
	return h
}

func settleMeta() process.Metadata {
	return process.NewMetadata("payment.settle", "1.0.0").
		Source(process.SourceEmbedded, "builtin").Build()
}

func settleRequest(business process.BusinessContext) Request {
	return Request{
		OperationID:   "op.settle",
		Channel:       "web",
		CorrelationID: "corr-1",
		Business:      business,
		Input:         map[string]any{"amount": 42.5},
	}
}

func TestOrchestrator_ExecuteProcess_Success(t *testing.T) {
	h := newHarness(t, &loader.FuncPlugin{
		Meta: settleMeta(),
		ExecuteFunc: func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
			return process.Success(map[string]any{"settled": true, "amount": input["amount"]}), nil
		},
	})

	result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))

	assert.Equal(t, process.StatusSuccess, result.Status)
	assert.Equal(t, true, result.Output["settled"])
	assert.Equal(t, 42.5, result.Output["amount"])
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, int32(1), h.validateCalls.Load())
	assert.Equal(t, int32(1), h.executeCalls.Load())
}

func TestOrchestrator_ExecuteProcess_UnknownOperation(t *testing.T) {
	h := newHarness(t, &loader.FuncPlugin{Meta: settleMeta()})

	req := settleRequest(process.BusinessContext{TenantID: "acme"})
	req.OperationID = "op.unknown"
	result := h.orchestrator.ExecuteProcess(context.Background(), req)

	assert.Equal(t, process.StatusTechnicalError, result.Status)
	assert.Equal(t, process.CodeProcessNotFound, result.ErrorCode)
	assert.Equal(t, int32(0), h.executeCalls.Load())
}

func TestOrchestrator_ExecuteProcess_UnloadedProcess(t *testing.T) {
	h := newHarness(t, &loader.FuncPlugin{Meta: settleMeta()})
	// The mapping resolves but the plugin is gone and nothing is pending.
	h.registry.Unregister("payment.settle", "1.0.0")

	result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))

	assert.Equal(t, process.StatusTechnicalError, result.Status)
	assert.Equal(t, process.CodeProcessNotFound, result.ErrorCode)
}

func TestOrchestrator_ExecuteProcess_OnDemandLoad(t *testing.T) {
	h := newHarness(t, &loader.FuncPlugin{Meta: settleMeta()})
	h.registry.Unregister("payment.settle", "1.0.0")

	// A pending descriptor lets the registry miss recover via the loaders.
	require.NoError(t, h.manager.RegisterPending(process.Descriptor{
		ProcessID:  "payment.settle",
		SourceType: process.SourceEmbedded,
	}))

	result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))

	assert.Equal(t, process.StatusSuccess, result.Status)
	assert.Equal(t, int32(1), h.executeCalls.Load())
}

func TestOrchestrator_ExecuteProcess_PermissionGating(t *testing.T) {
	meta := process.NewMetadata("payment.settle", "1.0.0").
		Permissions("payments:write", "payments:settle").
		Source(process.SourceEmbedded, "builtin").Build()

	tests := []struct {
		name     string
		business process.BusinessContext
		allowed  bool
	}{
		{
			name:     "all permissions held",
			business: process.BusinessContext{TenantID: "acme", Permissions: []string{"payments:write", "payments:settle"}},
			allowed:  true,
		},
		{
			name:     "one permission missing",
			business: process.BusinessContext{TenantID: "acme", Permissions: []string{"payments:write"}},
			allowed:  false,
		},
		{
			name:     "no permissions",
			business: process.BusinessContext{TenantID: "acme"},
			allowed:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &loader.FuncPlugin{Meta: meta})
			result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(tt.business))

			if tt.allowed {
				assert.Equal(t, process.StatusSuccess, result.Status)
				assert.Equal(t, int32(1), h.executeCalls.Load())
				return
			}
			assert.Equal(t, process.StatusBusinessError, result.Status)
			assert.Equal(t, process.CodeAccessDenied, result.ErrorCode)
			assert.Equal(t, int32(0), h.executeCalls.Load(), "denied request must never execute")
			assert.Equal(t, int32(0), h.validateCalls.Load(), "denied request must never validate")
		})
	}
}

func TestOrchestrator_ExecuteProcess_RoleGating_AnyOf(t *testing.T) {
	meta := process.NewMetadata("payment.settle", "1.0.0").
		Roles("operator", "admin").
		Source(process.SourceEmbedded, "builtin").Build()

	h := newHarness(t, &loader.FuncPlugin{Meta: meta})
	result := h.orchestrator.ExecuteProcess(context.Background(),
		settleRequest(process.BusinessContext{TenantID: "acme", Roles: []string{"admin"}}))
	assert.Equal(t, process.StatusSuccess, result.Status)

	h = newHarness(t, &loader.FuncPlugin{Meta: meta})
	result = h.orchestrator.ExecuteProcess(context.Background(),
		settleRequest(process.BusinessContext{TenantID: "acme", Roles: []string{"viewer"}}))
	assert.Equal(t, process.StatusBusinessError, result.Status)
	assert.Equal(t, process.CodeAccessDenied, result.ErrorCode)
}

func TestOrchestrator_ExecuteProcess_FeatureGating(t *testing.T) {
	meta := process.NewMetadata("payment.settle", "1.0.0").
		Features("instant-settlement", "dark-launch").
		Source(process.SourceEmbedded, "builtin").Build()

	h := newHarness(t, &loader.FuncPlugin{Meta: meta})

	// Globally enabled + tenant-disabled feature: denied.
	result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))
	assert.Equal(t, process.StatusBusinessError, result.Status)
	assert.Equal(t, process.CodeAccessDenied, result.ErrorCode)

	h.features.SetTenant("acme", "dark-launch", true)
	result = h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))
	assert.Equal(t, process.StatusSuccess, result.Status)
}

func TestOrchestrator_ExecuteProcess_ValidationShortCircuit(t *testing.T) {
	h := newHarness(t, &loader.FuncPlugin{
		Meta: settleMeta(),
		ValidateFunc: func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.ValidationResult, error) {
			return process.Invalid(process.FieldError{
				Field: "amount", Code: "REQUIRED", Message: "amount is required",
			}), nil
		},
	})

	result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))

	assert.Equal(t, process.StatusBusinessError, result.Status)
	assert.Equal(t, process.CodeValidationFailed, result.ErrorCode)
	require.Len(t, result.FieldErrors, 1)
	assert.Equal(t, "amount", result.FieldErrors[0].Field)
	assert.Equal(t, int32(0), h.executeCalls.Load(), "execute must not run after failed validation")
}

func TestOrchestrator_ExecuteProcess_Timeout(t *testing.T) {
	h := newHarness(t, &loader.FuncPlugin{
		Meta: settleMeta(),
		ExecuteFunc: func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return process.Success(nil), nil
			case <-ctx.Done():
				return process.Result{}, ctx.Err()
			}
		},
	}, WithExecutionTimeout(50*time.Millisecond))

	started := time.Now()
	result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))

	assert.Equal(t, process.StatusTechnicalError, result.Status)
	assert.Equal(t, process.CodeTimeout, result.ErrorCode)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestOrchestrator_ExecuteProcess_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus process.Status
		wantCode   process.ErrorCode
	}{
		{
			name:       "typed access denied stays business",
			err:        process.NewError(process.CodeAccessDenied, "session expired"),
			wantStatus: process.StatusBusinessError,
			wantCode:   process.CodeAccessDenied,
		},
		{
			name:       "typed dependency failure is technical",
			err:        process.NewError(process.CodeDependencyMissing, "symbol gone"),
			wantStatus: process.StatusTechnicalError,
			wantCode:   process.CodeDependencyMissing,
		},
		{
			name:       "untyped error maps to execution failure",
			err:        errors.New("nil pointer somewhere"),
			wantStatus: process.StatusTechnicalError,
			wantCode:   process.CodeExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &loader.FuncPlugin{
				Meta: settleMeta(),
				ExecuteFunc: func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
					return process.Result{}, tt.err
				},
			})

			result := h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantCode, result.ErrorCode)
			if result.Status == process.StatusBusinessError {
				assert.Nil(t, result.Fault, "business errors never leak internals")
			} else {
				assert.Error(t, result.Fault)
			}
		})
	}
}

func TestOrchestrator_ExecuteProcess_RecordsMetrics(t *testing.T) {
	metrics := telemetry.NewSlogMetrics(nil)
	h := newHarness(t, &loader.FuncPlugin{Meta: settleMeta()}, WithMetrics(metrics))

	h.orchestrator.ExecuteProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))

	started, completed, failed := metrics.Counters()
	assert.Equal(t, int64(1), started)
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(0), failed)
}

// spyMetrics records which process ids lifecycle calls were keyed by.
type spyMetrics struct {
	startIDs    []string
	completeIDs []string
	errorIDs    []string
}

func (s *spyMetrics) RecordStart(processID, executionID string) {
	s.startIDs = append(s.startIDs, processID)
}

func (s *spyMetrics) RecordComplete(processID, executionID string, duration time.Duration, status process.Status) {
	s.completeIDs = append(s.completeIDs, processID)
}

func (s *spyMetrics) RecordError(processID string, code process.ErrorCode, errorType string) {
	s.errorIDs = append(s.errorIDs, processID)
}

func TestOrchestrator_ExecuteProcess_CompletionKeyedByProcessID(t *testing.T) {
	// The operation id and the resolved process id differ; start and
	// complete must both carry the process id so the pair is joinable.
	metrics := &spyMetrics{}
	events := telemetry.NewSlogEvents(nil)
	eventCh := events.Subscribe()
	h := newHarness(t, &loader.FuncPlugin{Meta: settleMeta()},
		WithMetrics(metrics), WithEvents(events))

	result := h.orchestrator.ExecuteProcess(context.Background(),
		settleRequest(process.BusinessContext{TenantID: "acme"}))
	require.True(t, result.IsSuccess())

	assert.Equal(t, []string{"payment.settle"}, metrics.startIDs)
	assert.Equal(t, []string{"payment.settle"}, metrics.completeIDs)

	for {
		select {
		case event := <-eventCh:
			assert.Equal(t, "payment.settle", event.ProcessID)
			if event.Type == ports.EventExecutionCompleted {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("completion event was not published")
		}
	}
}

func TestOrchestrator_CompensateProcess(t *testing.T) {
	t.Run("declared compensator runs under gating", func(t *testing.T) {
		meta := process.NewMetadata("payment.settle", "1.0.0").
			Permissions("payments:write").
			Source(process.SourceEmbedded, "builtin").Build()

		h := newHarness(t, &loader.FuncPlugin{
			Meta: meta,
			Compensator: func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
				return process.Success(map[string]any{"reversed": true}), nil
			},
		})

		denied := h.orchestrator.CompensateProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))
		assert.Equal(t, process.CodeAccessDenied, denied.ErrorCode)

		granted := h.orchestrator.CompensateProcess(context.Background(),
			settleRequest(process.BusinessContext{TenantID: "acme", Permissions: []string{"payments:write"}}))
		assert.Equal(t, process.StatusSuccess, granted.Status)
		assert.Equal(t, true, granted.Output["reversed"])
	})

	t.Run("missing compensator is technical", func(t *testing.T) {
		h := newHarness(t, &loader.FuncPlugin{Meta: settleMeta()})

		result := h.orchestrator.CompensateProcess(context.Background(), settleRequest(process.BusinessContext{TenantID: "acme"}))
		assert.Equal(t, process.StatusTechnicalError, result.Status)
		assert.Equal(t, process.CodeUnsupported, result.ErrorCode)
	})
}
