// Package runtime assembles the plugin runtime from configuration: registry,
// pools, loader chain, orchestrator and health probe.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sherifabdlnaby/gpool"

	"github.com/flowplane/flowplane/internal/application"
	"github.com/flowplane/flowplane/internal/config"
	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/infrastructure/loadctx"
	"github.com/flowplane/flowplane/internal/infrastructure/loader"
	"github.com/flowplane/flowplane/internal/infrastructure/mapping"
	"github.com/flowplane/flowplane/internal/infrastructure/registry"
	"github.com/flowplane/flowplane/internal/infrastructure/telemetry"
)

// Runtime is the fully wired plugin runtime.
type Runtime struct {
	Config config.Config
	Logger *slog.Logger

	Registry     *registry.PluginRegistry
	Resolver     *mapping.StaticResolver
	Features     *telemetry.StaticFeatures
	Metrics      *telemetry.SlogMetrics
	Events       *telemetry.SlogEvents
	Manager      *loader.Manager
	Orchestrator *application.Orchestrator
	Health       *application.HealthProbe

	blockingPool *gpool.Pool
	execPool     *gpool.Pool
}

// New wires a runtime from configuration. Embedded plugins are served by the
// embedded loader at its configured priority.
func New(cfg config.Config, logger *slog.Logger, embedded ...process.Plugin) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(logger)
	events := telemetry.NewSlogEvents(logger)
	metrics := telemetry.NewSlogMetrics(logger)
	features := telemetry.NewStaticFeatures(cfg.Features)

	// Blocking work (scans, stability polling, downloads) and plugin
	// executions run on separate pools so neither starves the other.
	blockingPool := gpool.NewPool(cfg.BlockingPoolSize)
	execPool := gpool.NewPool(cfg.ExecutionPoolSize)

	localCfg := loader.LocalConfig{
		Directories:       cfg.PluginDirs,
		Priority:          cfg.LocalPriority,
		Enabled:           cfg.LocalEnabled,
		Isolation:         loadctx.IsolationMode(cfg.Isolation),
		HotReload:         cfg.HotReload,
		DebounceWindow:    cfg.DebounceWindow(),
		StabilityInterval: cfg.StabilityInterval(),
		StabilityPolls:    cfg.StabilityPolls,
	}
	local := loader.NewLocalLoader(localCfg, reg, events, blockingPool, logger)

	breaker := loader.NewCircuitBreaker(loader.BreakerConfig{
		FailureRateThreshold:  cfg.Breaker.FailureRateThreshold,
		SlowCallRateThreshold: cfg.Breaker.SlowCallRateThreshold,
		SlowCallDuration:      cfg.BreakerSlowCallDuration(),
		WindowSize:            cfg.Breaker.WindowSize,
		MinimumCalls:          cfg.Breaker.MinimumCalls,
		OpenWait:              cfg.BreakerOpenWait(),
		HalfOpenCalls:         cfg.Breaker.HalfOpenCalls,
	})
	cache, err := loader.NewArtifactCache(cfg.CacheDir, cfg.RepoBaseURL, breaker, logger)
	if err != nil {
		return nil, err
	}
	remote := loader.NewRemoteLoader(loader.RemoteConfig{
		Priority:     cfg.RemotePriority,
		Enabled:      cfg.RemoteEnabled,
		FetchTimeout: cfg.FetchTimeout(),
	}, cache, local, logger)

	embeddedLoader := loader.NewEmbeddedLoader(cfg.EmbeddedPriority, reg, logger, embedded...)
	manager := loader.NewManager(logger, embeddedLoader, local, remote)

	for _, rp := range cfg.RemotePlugins {
		desc := descriptorFromConfig(rp)
		if err := manager.RegisterPending(desc); err != nil {
			return nil, fmt.Errorf("remote plugin %q: %w", rp.ProcessID, err)
		}
	}

	resolver := mapping.NewStaticResolver()
	for _, rule := range cfg.Mappings {
		resolver.AddRule(mapping.Rule{
			TenantID:    rule.TenantID,
			OperationID: rule.OperationID,
			ProductID:   rule.ProductID,
			Channel:     rule.Channel,
			ProcessID:   rule.ProcessID,
			Version:     rule.Version,
		})
	}

	orchestrator := application.New(reg, resolver, manager, execPool, logger,
		application.WithExecutionTimeout(cfg.ExecTimeout()),
		application.WithMetrics(metrics),
		application.WithEvents(events),
		application.WithFeatureChecker(features),
	)
	health := application.NewHealthProbe(reg, events, cfg.ExecTimeout(), logger)

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Registry:     reg,
		Resolver:     resolver,
		Features:     features,
		Metrics:      metrics,
		Events:       events,
		Manager:      manager,
		Orchestrator: orchestrator,
		Health:       health,
		blockingPool: blockingPool,
		execPool:     execPool,
	}, nil
}

// Start initializes the loader chain and runs the discovery sweep. The exit
// hook guarantees load contexts release their handles even on abrupt
// termination.
func (r *Runtime) Start(ctx context.Context) error {
	loadctx.InstallExitHook()
	if err := r.Manager.Init(ctx); err != nil {
		return err
	}
	discovered := r.Manager.Discover(ctx)
	r.Logger.Info("runtime started",
		"plugins", discovered,
		"processes", r.Registry.Size(),
		"versions", r.Registry.VersionCount())
	return nil
}

// Stop shuts the loader chain down and drains the worker pools.
func (r *Runtime) Stop(ctx context.Context) {
	r.Manager.Shutdown(ctx)
	loadctx.CloseAll()
	r.execPool.Stop()
	r.blockingPool.Stop()
	r.Logger.Info("runtime stopped")
}

func descriptorFromConfig(rp config.RemotePlugin) process.Descriptor {
	return process.Descriptor{
		ProcessID:  rp.ProcessID,
		Version:    rp.Version,
		SourceType: process.SourceType(rp.SourceType),
		SourceURI:  rp.SourceURI,
		GroupID:    rp.GroupID,
		ArtifactID: rp.ArtifactID,
		Checksum:   rp.Checksum,
	}
}
