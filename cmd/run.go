package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/internal/config"
	"github.com/flowplane/flowplane/internal/runtime"
)

// newRunCommand creates the run subcommand
func newRunCommand(configPath *string) *cobra.Command {
	var healthInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the plugin runtime",
		Long: `Run initializes the loader chain (embedded, local, remote), performs the
discovery sweep, starts the hot-reload watcher and keeps the runtime alive
until interrupted.

Example:
  flowplane run
  flowplane run --config ./flowplane.json --health-interval 1m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuntime(*configPath, healthInterval)
		},
	}

	cmd.Flags().DurationVar(&healthInterval, "health-interval", 30*time.Second, "interval between plugin health sweeps (0 disables)")

	return cmd
}

func runRuntime(configPath string, healthInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Stop(shutdownCtx)
	}()

	if healthInterval > 0 {
		go runHealthSweeps(ctx, rt, healthInterval)
	}

	fmt.Printf("flowplane running: %d processes, %d plugin versions. Press Ctrl+C to stop.\n",
		rt.Registry.Size(), rt.Registry.VersionCount())

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	return nil
}

func runHealthSweeps(ctx context.Context, rt *runtime.Runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := rt.Health.Check(ctx)
			for key, err := range report.PluginResults {
				if err != nil {
					rt.Logger.Warn("unhealthy plugin", "key", key, "error", err)
				}
			}
		}
	}
}

// buildRuntime loads configuration and wires the runtime. Shared by all
// subcommands that need a live registry.
func buildRuntime(configPath string) (*runtime.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to wire runtime: %w", err)
	}
	return rt, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
