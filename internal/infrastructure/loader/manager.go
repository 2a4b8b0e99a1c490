// Package loader implements the loader strategies of the plugin runtime:
// embedded, local dynamic-artifact with hot reload, and remote repository,
// together with the artifact cache, circuit breaker and file watcher that
// support them.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
)

// Manager owns the ordered loader chain. It runs the startup sweep, routes
// descriptors to the right strategy and resolves on-demand loads for
// processes the registry does not yet hold.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	loaders []ports.PluginLoader
	pending map[string]process.Descriptor // processID -> on-demand descriptor
}

// NewManager creates a manager over the given loaders, kept in ascending
// priority order.
func NewManager(logger *slog.Logger, loaders ...ports.PluginLoader) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:  logger.With("component", "loader-manager"),
		loaders: loaders,
		pending: make(map[string]process.Descriptor),
	}
	sort.SliceStable(m.loaders, func(i, j int) bool {
		return m.loaders[i].Priority() < m.loaders[j].Priority()
	})
	return m
}

// RegisterPending declares a descriptor the manager may load on demand when
// an execution resolves to a process id that is not yet in the registry.
func (m *Manager) RegisterPending(desc process.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.pending[desc.ProcessID] = desc
	m.mu.Unlock()
	return nil
}

// Init initializes every enabled loader in priority order.
func (m *Manager) Init(ctx context.Context) error {
	for _, l := range m.enabled() {
		if err := l.Init(ctx); err != nil {
			return fmt.Errorf("loader %s failed to initialize: %w", l.Type(), err)
		}
	}
	return nil
}

// Discover runs the startup sweep across every enabled loader. Per-loader
// failures are logged and do not abort other loaders.
func (m *Manager) Discover(ctx context.Context) int {
	total := 0
	for _, l := range m.enabled() {
		plugins, err := l.Discover(ctx)
		if err != nil {
			m.logger.Warn("discovery sweep failed", "loader", l.Type(), "error", err)
			continue
		}
		m.logger.Info("discovery sweep complete", "loader", l.Type(), "plugins", len(plugins))
		total += len(plugins)
	}
	return total
}

// Load routes a descriptor to the first enabled loader that supports it.
func (m *Manager) Load(ctx context.Context, desc process.Descriptor) (process.Plugin, error) {
	for _, l := range m.enabled() {
		if l.Supports(desc) {
			return l.Load(ctx, desc)
		}
	}
	return nil, process.NewError(process.CodeUnsupported,
		fmt.Sprintf("no enabled loader supports source type %q", desc.SourceType))
}

// LoadOnDemand attempts to load a process that missed in the registry, using
// its registered pending descriptor.
func (m *Manager) LoadOnDemand(ctx context.Context, processID string) (process.Plugin, error) {
	m.mu.RLock()
	desc, ok := m.pending[processID]
	m.mu.RUnlock()
	if !ok {
		return nil, process.NewError(process.CodeProcessNotFound,
			fmt.Sprintf("no load source is known for process %q", processID))
	}
	return m.Load(ctx, desc)
}

// Loaders returns the loader chain in priority order.
func (m *Manager) Loaders() []ports.PluginLoader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.PluginLoader, len(m.loaders))
	copy(out, m.loaders)
	return out
}

// Shutdown stops loaders in reverse priority order.
func (m *Manager) Shutdown(ctx context.Context) {
	enabled := m.enabled()
	for i := len(enabled) - 1; i >= 0; i-- {
		if err := enabled[i].Shutdown(ctx); err != nil {
			m.logger.Warn("loader shutdown failed", "loader", enabled[i].Type(), "error", err)
		}
	}
}

func (m *Manager) enabled() []ports.PluginLoader {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.PluginLoader, 0, len(m.loaders))
	for _, l := range m.loaders {
		if l.Enabled() {
			out = append(out, l)
		}
	}
	return out
}
