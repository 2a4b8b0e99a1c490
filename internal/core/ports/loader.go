// Package ports defines the contracts between the plugin runtime's core and
// its infrastructure adapters and external collaborators.
package ports

import (
	"context"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// LoaderType identifies a loader strategy implementation.
type LoaderType string

const (
	LoaderEmbedded LoaderType = "embedded"
	LoaderLocal    LoaderType = "local"
	LoaderRemote   LoaderType = "remote"
)

// PluginLoader is the strategy contract for locating and instantiating
// process plugins. Loaders are consulted in ascending Priority order.
type PluginLoader interface {
	// Type identifies the loader strategy.
	Type() LoaderType

	// Priority orders loaders; lower is preferred.
	Priority() int

	// Enabled reports whether this loader participates at all.
	Enabled() bool

	// Supports reports whether this loader can satisfy the descriptor.
	Supports(desc process.Descriptor) bool

	// Discover performs the startup sweep and registers everything it finds.
	// It is best-effort: a single bad artifact is logged and skipped, never
	// aborting discovery of the rest. Re-invocation restarts the sweep.
	Discover(ctx context.Context) ([]process.Plugin, error)

	// Load performs an on-demand single load from the descriptor.
	Load(ctx context.Context, desc process.Descriptor) (process.Plugin, error)

	// Unload removes every plugin this loader registered for the process id.
	Unload(processID string) error

	// Reload replaces a loaded plugin; the default strategy is
	// unload-then-load.
	Reload(ctx context.Context, desc process.Descriptor) (process.Plugin, error)

	// Init prepares loader resources (directories, watchers, caches).
	Init(ctx context.Context) error

	// Shutdown releases loader resources. Idempotent.
	Shutdown(ctx context.Context) error

	// SupportsHotReload reports whether this loader reacts to artifact
	// changes at runtime.
	SupportsHotReload() bool
}

// Registration couples a plugin with the loader provenance the registry
// needs for priority-based latest-version resolution.
type Registration struct {
	Plugin   process.Plugin
	Source   LoaderType
	Priority int
}

// Registry is the versioned store of loaded plugin instances. All operations
// are safe for concurrent use.
type Registry interface {
	// Register stores a plugin. Malformed metadata is rejected with a
	// configuration error. An equal-priority duplicate of an existing
	// (processId, version) from a different source is rejected with a
	// conflict error; the same source replaces its own entry atomically.
	Register(reg Registration) error

	// Unregister removes one version. Returns false if absent.
	Unregister(processID, version string) bool

	// Get returns a plugin by id and version. An empty version resolves the
	// latest: lowest loader priority first, then highest semantic version.
	Get(processID, version string) (process.Plugin, bool)

	// GetAll returns a snapshot of every registered plugin.
	GetAll() []process.Plugin

	// Size returns the number of distinct process ids.
	Size() int

	// VersionCount returns the total number of registered versions.
	VersionCount() int
}
