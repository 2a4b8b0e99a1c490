// Package registry provides the concurrent, versioned store of loaded
// process plugins.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
)

// entry is one registered (processId, version) with its loader provenance.
type entry struct {
	plugin   process.Plugin
	source   ports.LoaderType
	priority int
	seq      uint64 // registration order, used as the final tie-break
}

// PluginRegistry implements ports.Registry. Lookups take the read lock only;
// a single-entry update holds the write lock for one map operation, so
// readers never observe a torn registration.
type PluginRegistry struct {
	mu      sync.RWMutex
	byID    map[string]map[string]*entry // processID -> version -> entry
	nextSeq uint64
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *PluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginRegistry{
		byID:   make(map[string]map[string]*entry),
		logger: logger.With("component", "registry"),
	}
}

// Register stores a plugin under its metadata identity.
//
// Duplicate (processId, version) handling: the same source replaces its own
// entry atomically (the hot-reload path); a different source at the same
// priority is rejected with a conflict error and logged; a different source
// at a different priority also coexists only version-wise, so an exact
// version duplicate is still a conflict.
func (r *PluginRegistry) Register(reg ports.Registration) error {
	if reg.Plugin == nil {
		return process.NewError(process.CodeConfiguration, "cannot register a nil plugin")
	}
	md := reg.Plugin.Metadata()
	if err := md.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byID[md.ProcessID]
	if !ok {
		versions = make(map[string]*entry)
		r.byID[md.ProcessID] = versions
	}

	if existing, ok := versions[md.Version]; ok && existing.source != reg.Source {
		r.logger.Warn("registration conflict",
			"process_id", md.ProcessID,
			"version", md.Version,
			"existing_source", existing.source,
			"rejected_source", reg.Source)
		return process.NewError(process.CodeConflict,
			fmt.Sprintf("process %s@%s is already registered by the %s loader",
				md.ProcessID, md.Version, existing.source))
	}

	r.nextSeq++
	versions[md.Version] = &entry{
		plugin:   reg.Plugin,
		source:   reg.Source,
		priority: reg.Priority,
		seq:      r.nextSeq,
	}

	r.logger.Info("plugin registered",
		"process_id", md.ProcessID,
		"version", md.Version,
		"source", reg.Source,
		"priority", reg.Priority)
	return nil
}

// Unregister removes one version of a process.
func (r *PluginRegistry) Unregister(processID, version string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byID[processID]
	if !ok {
		return false
	}
	if _, ok := versions[version]; !ok {
		return false
	}
	delete(versions, version)
	if len(versions) == 0 {
		delete(r.byID, processID)
	}
	r.logger.Info("plugin unregistered", "process_id", processID, "version", version)
	return true
}

// Get returns a plugin by id and version. An empty version resolves latest:
// the entry registered by the lowest loader priority wins; among entries of
// equal priority the highest semantic version wins, then registration order.
func (r *PluginRegistry) Get(processID, version string) (process.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[processID]
	if !ok || len(versions) == 0 {
		return nil, false
	}

	if version != "" && version != process.VersionLatest {
		e, ok := versions[version]
		if !ok {
			return nil, false
		}
		return e.plugin, true
	}

	var best *entry
	for ver, e := range versions {
		if best == nil || preferred(e, ver, best) {
			best = e
		}
	}
	return best.plugin, true
}

// preferred reports whether candidate should replace the current best entry
// for latest-version resolution.
func preferred(candidate *entry, candidateVersion string, best *entry) bool {
	if candidate.priority != best.priority {
		return candidate.priority < best.priority
	}
	cv, cerr := semver.NewVersion(candidateVersion)
	bv, berr := semver.NewVersion(best.plugin.Metadata().Version)
	if cerr == nil && berr == nil && !cv.Equal(bv) {
		return cv.GreaterThan(bv)
	}
	return candidate.seq > best.seq
}

// GetAll returns a snapshot of every registered plugin instance.
func (r *PluginRegistry) GetAll() []process.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]process.Plugin, 0, len(r.byID))
	for _, versions := range r.byID {
		for _, e := range versions {
			all = append(all, e.plugin)
		}
	}
	return all
}

// Size returns the number of distinct process ids.
func (r *PluginRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// VersionCount returns the total number of registered versions.
func (r *PluginRegistry) VersionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, versions := range r.byID {
		total += len(versions)
	}
	return total
}

var _ ports.Registry = (*PluginRegistry)(nil)
