package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
)

// EmbeddedLoader serves plugins compiled into the host binary. Modules hand
// their plugins to the loader at startup through explicit registration; no
// marker scanning is involved.
type EmbeddedLoader struct {
	priority int
	enabled  bool
	registry ports.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	plugins []process.Plugin
}

// NewEmbeddedLoader creates the loader with the given startup plugin set.
func NewEmbeddedLoader(priority int, registry ports.Registry, logger *slog.Logger, plugins ...process.Plugin) *EmbeddedLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddedLoader{
		priority: priority,
		enabled:  true,
		registry: registry,
		logger:   logger.With("component", "embedded-loader"),
		plugins:  plugins,
	}
}

func (l *EmbeddedLoader) Type() ports.LoaderType  { return ports.LoaderEmbedded }
func (l *EmbeddedLoader) Priority() int           { return l.priority }
func (l *EmbeddedLoader) Enabled() bool           { return l.enabled }
func (l *EmbeddedLoader) SupportsHotReload() bool { return false }

func (l *EmbeddedLoader) Supports(desc process.Descriptor) bool {
	return desc.SourceType == process.SourceEmbedded
}

// Add registers an additional embedded plugin before discovery runs.
func (l *EmbeddedLoader) Add(p process.Plugin) {
	l.mu.Lock()
	l.plugins = append(l.plugins, p)
	l.mu.Unlock()
}

func (l *EmbeddedLoader) Init(ctx context.Context) error { return nil }

// Discover registers every embedded plugin. Individual failures are logged
// and skipped.
func (l *EmbeddedLoader) Discover(ctx context.Context) ([]process.Plugin, error) {
	l.mu.Lock()
	plugins := make([]process.Plugin, len(l.plugins))
	copy(plugins, l.plugins)
	l.mu.Unlock()

	var registered []process.Plugin
	for _, p := range plugins {
		err := l.registry.Register(ports.Registration{
			Plugin:   p,
			Source:   ports.LoaderEmbedded,
			Priority: l.priority,
		})
		if err != nil {
			l.logger.Warn("embedded plugin rejected",
				"process_id", p.Metadata().ProcessID, "error", err)
			continue
		}
		registered = append(registered, p)
	}
	return registered, nil
}

// Load resolves a descriptor against the embedded plugin set.
func (l *EmbeddedLoader) Load(ctx context.Context, desc process.Descriptor) (process.Plugin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.plugins {
		md := p.Metadata()
		if md.ProcessID != desc.ProcessID {
			continue
		}
		if desc.Version != "" && desc.Version != process.VersionLatest && md.Version != desc.Version {
			continue
		}
		return p, nil
	}
	return nil, process.NewError(process.CodeProcessNotFound,
		fmt.Sprintf("no embedded plugin for process %q", desc.ProcessID))
}

// Unload unregisters the embedded plugin's versions from the registry. The
// in-binary instances stay available for a later Discover.
func (l *EmbeddedLoader) Unload(processID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for _, p := range l.plugins {
		md := p.Metadata()
		if md.ProcessID == processID {
			l.registry.Unregister(md.ProcessID, md.Version)
			found = true
		}
	}
	if !found {
		return process.NewError(process.CodeProcessNotFound,
			fmt.Sprintf("process %q is not an embedded plugin", processID))
	}
	return nil
}

// Reload is unload-then-load.
func (l *EmbeddedLoader) Reload(ctx context.Context, desc process.Descriptor) (process.Plugin, error) {
	_ = l.Unload(desc.ProcessID)
	return l.Load(ctx, desc)
}

func (l *EmbeddedLoader) Shutdown(ctx context.Context) error { return nil }

var _ ports.PluginLoader = (*EmbeddedLoader)(nil)

// FuncPlugin is a process.Plugin backed by plain Go functions. It is the
// embedded plugin building block and doubles as a test double.
type FuncPlugin struct {
	Meta         process.Metadata
	ValidateFunc func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.ValidationResult, error)
	ExecuteFunc  func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error)
	Compensator  func(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error)
	HealthFunc   func(ctx context.Context) error
}

func (p *FuncPlugin) Metadata() process.Metadata { return p.Meta }

func (p *FuncPlugin) Validate(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.ValidationResult, error) {
	if p.ValidateFunc == nil {
		return process.ValidOK(), nil
	}
	return p.ValidateFunc(ctx, execCtx, input)
}

func (p *FuncPlugin) Execute(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
	if p.ExecuteFunc == nil {
		return process.Success(nil), nil
	}
	return p.ExecuteFunc(ctx, execCtx, input)
}

func (p *FuncPlugin) Compensate(ctx context.Context, execCtx *process.ExecutionContext, input map[string]any) (process.Result, error) {
	if p.Compensator == nil {
		return process.Result{}, process.NewError(process.CodeUnsupported,
			fmt.Sprintf("process %q does not support compensation", p.Meta.ProcessID))
	}
	return p.Compensator(ctx, execCtx, input)
}

func (p *FuncPlugin) HealthCheck(ctx context.Context) error {
	if p.HealthFunc == nil {
		return nil
	}
	return p.HealthFunc(ctx)
}

var _ process.Plugin = (*FuncPlugin)(nil)
var _ process.HealthChecker = (*FuncPlugin)(nil)
