package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sherifabdlnaby/gpool"
	"github.com/tidwall/gjson"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
	"github.com/flowplane/flowplane/internal/infrastructure/loadctx"
)

// ArtifactExt is the file extension of dynamic plugin artifacts.
const ArtifactExt = ".lua"

// LocalConfig tunes the local dynamic-artifact loader.
type LocalConfig struct {
	Directories []string
	Priority    int
	Enabled     bool
	Isolation   loadctx.IsolationMode
	HotReload   bool

	// DebounceWindow drops a reload attempt for a path that fired within
	// this window of the previous attempt.
	DebounceWindow time.Duration

	// Stability polling: a file must report the same non-zero size twice in
	// a row, within StabilityPolls reads spaced StabilityInterval apart.
	StabilityInterval time.Duration
	StabilityPolls    int
}

// DefaultLocalConfig returns the standard local loader settings.
func DefaultLocalConfig(dirs ...string) LocalConfig {
	return LocalConfig{
		Directories:       dirs,
		Priority:          10,
		Enabled:           true,
		Isolation:         loadctx.ModeIsolated,
		HotReload:         true,
		DebounceWindow:    2 * time.Second,
		StabilityInterval: 500 * time.Millisecond,
		StabilityPolls:    5,
	}
}

// LocalLoader scans configured directories for plugin artifacts, loads each
// into an isolated context and keeps the registry synchronized with
// filesystem state through hot reload.
type LocalLoader struct {
	config   LocalConfig
	registry ports.Registry
	events   ports.EventPublisher
	pool     *gpool.Pool
	logger   *slog.Logger
	watcher  *Watcher

	// reloadMu serializes reload attempts per loader instance; an attempt
	// that cannot acquire it is skipped, not queued.
	reloadMu sync.Mutex

	mu        sync.Mutex
	contexts  map[string]*loadctx.Context   // artifact path -> load context
	loaded    map[string][]process.Metadata // artifact path -> registered identities
	debounced map[string]time.Time          // artifact path -> last attempt
}

// NewLocalLoader creates a local loader. The pool carries all blocking work
// (scans, stability polling, reloads), keeping the watcher goroutine free.
func NewLocalLoader(config LocalConfig, registry ports.Registry, events ports.EventPublisher, pool *gpool.Pool, logger *slog.Logger) *LocalLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalLoader{
		config:    config,
		registry:  registry,
		events:    events,
		pool:      pool,
		logger:    logger.With("component", "local-loader"),
		contexts:  make(map[string]*loadctx.Context),
		loaded:    make(map[string][]process.Metadata),
		debounced: make(map[string]time.Time),
	}
}

func (l *LocalLoader) Type() ports.LoaderType  { return ports.LoaderLocal }
func (l *LocalLoader) Priority() int           { return l.config.Priority }
func (l *LocalLoader) Enabled() bool           { return l.config.Enabled }
func (l *LocalLoader) SupportsHotReload() bool { return l.config.HotReload }

func (l *LocalLoader) Supports(desc process.Descriptor) bool {
	return desc.SourceType == process.SourceLocalArchive
}

// Init creates missing scan directories and starts the hot-reload watcher.
func (l *LocalLoader) Init(ctx context.Context) error {
	for _, dir := range l.config.Directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create plugin directory %s: %w", dir, err)
		}
	}
	if !l.config.HotReload {
		return nil
	}

	watcher, err := NewWatcher(ArtifactExt, l.handleEvent, l.logger)
	if err != nil {
		return fmt.Errorf("failed to start plugin watcher: %w", err)
	}
	for _, dir := range l.config.Directories {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	l.watcher = watcher
	return nil
}

// Discover sweeps every configured directory. Best-effort: one bad artifact
// is logged and skipped, never aborting the rest of the sweep. A directory
// that does not exist is treated as empty.
func (l *LocalLoader) Discover(ctx context.Context) ([]process.Plugin, error) {
	var all []process.Plugin
	for _, dir := range l.config.Directories {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			l.logger.Warn("cannot read plugin directory", "dir", dir, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ArtifactExt) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return all, err
			}
			path := filepath.Join(dir, entry.Name())
			plugins, err := l.loadArtifact(path, "")
			if err != nil {
				l.logger.Warn("skipping artifact", "path", path, "error", err)
				continue
			}
			all = append(all, plugins...)
		}
	}
	return all, nil
}

// Load performs an on-demand load of a single artifact descriptor.
func (l *LocalLoader) Load(ctx context.Context, desc process.Descriptor) (process.Plugin, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if !l.Supports(desc) {
		return nil, process.NewError(process.CodeUnsupported,
			fmt.Sprintf("local loader cannot satisfy source type %q", desc.SourceType))
	}
	path := desc.SourceURI
	if path == "" {
		return nil, process.NewError(process.CodeConfiguration,
			fmt.Sprintf("descriptor %q has no artifact path", desc.ProcessID))
	}

	if desc.ForceReload {
		l.unloadPath(path)
	}

	plugins, err := l.loadArtifact(path, desc.EntryName)
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		if p.Metadata().ProcessID == desc.ProcessID {
			return p, nil
		}
	}
	return nil, process.NewError(process.CodeProcessNotFound,
		fmt.Sprintf("artifact %s does not register process %q", path, desc.ProcessID))
}

// Unload removes every plugin this loader registered for the process id,
// closing contexts that no longer back any plugin.
func (l *LocalLoader) Unload(processID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for path, metas := range l.loaded {
		remaining := metas[:0]
		for _, md := range metas {
			if md.ProcessID == processID {
				found = true
				l.registry.Unregister(md.ProcessID, md.Version)
				l.publish(ports.EventPluginUnregistered, md)
				continue
			}
			remaining = append(remaining, md)
		}
		if len(remaining) == 0 {
			delete(l.loaded, path)
			if c, ok := l.contexts[path]; ok {
				_ = c.Close()
				delete(l.contexts, path)
			}
		} else {
			l.loaded[path] = remaining
		}
	}
	if !found {
		return process.NewError(process.CodeProcessNotFound,
			fmt.Sprintf("process %q is not loaded by the local loader", processID))
	}
	return nil
}

// Reload is the default unload-then-load strategy for one descriptor.
func (l *LocalLoader) Reload(ctx context.Context, desc process.Descriptor) (process.Plugin, error) {
	_ = l.Unload(desc.ProcessID)
	return l.Load(ctx, desc)
}

// Shutdown stops the watcher and closes every outstanding load context.
func (l *LocalLoader) Shutdown(ctx context.Context) error {
	if l.watcher != nil {
		_ = l.watcher.Close()
		l.watcher = nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for path, c := range l.contexts {
		for _, md := range l.loaded[path] {
			l.registry.Unregister(md.ProcessID, md.Version)
		}
		_ = c.Close()
	}
	l.contexts = make(map[string]*loadctx.Context)
	l.loaded = make(map[string][]process.Metadata)
	return nil
}

// loadArtifact opens an isolated context for the artifact, validates its
// dependencies and registers every process it declares. entryName, when
// non-empty, restricts registration to that process id.
func (l *LocalLoader) loadArtifact(path string, entryName string) ([]process.Plugin, error) {
	if err := l.verifySidecar(path); err != nil {
		return nil, err
	}

	c := loadctx.New(l.config.Isolation, path)
	if err := c.RunFile(path); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.ValidateDependencies(); err != nil {
		_ = c.Close()
		return nil, err
	}

	registrations := c.Registrations()
	if len(registrations) == 0 {
		_ = c.Close()
		return nil, process.NewError(process.CodeLoadFailure,
			fmt.Sprintf("artifact %s registers no processes", path))
	}

	var plugins []process.Plugin
	var metas []process.Metadata
	for _, reg := range registrations {
		if entryName != "" && reg.Metadata.ProcessID != entryName {
			continue
		}
		plugin := loadctx.NewPlugin(c, reg)
		err := l.registry.Register(ports.Registration{
			Plugin:   plugin,
			Source:   ports.LoaderLocal,
			Priority: l.config.Priority,
		})
		if err != nil {
			l.logger.Warn("registration rejected",
				"path", path, "process_id", reg.Metadata.ProcessID,
				"version", reg.Metadata.Version, "error", err)
			continue
		}
		plugins = append(plugins, plugin)
		metas = append(metas, reg.Metadata)
		l.publish(ports.EventPluginRegistered, reg.Metadata)
	}

	if len(plugins) == 0 {
		_ = c.Close()
		return nil, process.NewError(process.CodeLoadFailure,
			fmt.Sprintf("artifact %s produced no registrable processes", path))
	}

	l.mu.Lock()
	previous := l.contexts[path]
	l.contexts[path] = c
	l.loaded[path] = metas
	l.mu.Unlock()
	if previous != nil {
		// A repeated load of the same artifact supersedes the old context;
		// close it so the interpreter state is released.
		_ = previous.Close()
	}
	return plugins, nil
}

// verifySidecar checks the artifact against an optional manifest sidecar
// (<artifact>.manifest.json) carrying an expected checksum.
func (l *LocalLoader) verifySidecar(path string) error {
	manifest, err := os.ReadFile(path + ".manifest.json")
	if err != nil {
		return nil // sidecars are optional
	}
	expected := gjson.GetBytes(manifest, "checksum").String()
	if expected == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	if !strings.EqualFold(expected, hex.EncodeToString(sum[:])) {
		return process.NewError(process.CodeChecksumMismatch,
			fmt.Sprintf("artifact %s does not match its manifest checksum", path))
	}
	return nil
}

// handleEvent receives watcher notifications and hands the blocking work to
// the pool. A full pool drops the event; the next filesystem event retries.
func (l *LocalLoader) handleEvent(kind ChangeKind, path string) {
	switch kind {
	case ChangeRemove:
		if !l.pool.TryEnqueue(func() { l.unloadPath(path) }) {
			l.logger.Warn("blocking pool saturated, dropping remove event", "path", path)
		}
	case ChangeWrite:
		if !l.pool.TryEnqueue(func() { l.reloadPath(path) }) {
			l.logger.Warn("blocking pool saturated, dropping reload event", "path", path)
		}
	}
}

// reloadPath drives one hot-reload attempt: debounce, reload-lock, stability
// check, then unload-before-register for the path.
func (l *LocalLoader) reloadPath(path string) {
	if !l.shouldAttempt(path) {
		l.logger.Debug("reload debounced", "path", path)
		return
	}

	// One reload at a time per loader; overlapping events are skipped
	// rather than queued.
	if !l.reloadMu.TryLock() {
		l.logger.Debug("reload already in progress, skipping", "path", path)
		return
	}
	defer l.reloadMu.Unlock()

	if !waitStable(path, l.config.StabilityInterval, l.config.StabilityPolls) {
		l.logger.Warn("artifact never stabilized, abandoning reload", "path", path)
		return
	}

	l.unloadPath(path)
	if _, err := l.loadArtifact(path, ""); err != nil {
		l.logger.Warn("hot reload failed", "path", path, "error", err)
		return
	}
	l.logger.Info("artifact hot-reloaded", "path", path)
}

// shouldAttempt applies the debounce window for a path.
func (l *LocalLoader) shouldAttempt(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if last, ok := l.debounced[path]; ok && now.Sub(last) < l.config.DebounceWindow {
		return false
	}
	l.debounced[path] = now
	return true
}

// unloadPath removes every plugin attributed to the artifact path and closes
// its context. Unload strictly precedes any re-registration for the path.
func (l *LocalLoader) unloadPath(path string) {
	l.mu.Lock()
	metas := l.loaded[path]
	c := l.contexts[path]
	delete(l.loaded, path)
	delete(l.contexts, path)
	l.mu.Unlock()

	for _, md := range metas {
		l.registry.Unregister(md.ProcessID, md.Version)
		l.publish(ports.EventPluginUnregistered, md)
	}
	if c != nil {
		_ = c.Close()
	}
}

func (l *LocalLoader) publish(eventType ports.EventType, md process.Metadata) {
	if l.events == nil {
		return
	}
	l.events.Publish(ports.Event{
		Type:      eventType,
		ProcessID: md.ProcessID,
		Version:   md.Version,
		Timestamp: time.Now(),
	})
}

var _ ports.PluginLoader = (*LocalLoader)(nil)
