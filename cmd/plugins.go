package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// newPluginsCommand creates the plugins subcommand group
func newPluginsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and load process plugins",
	}

	cmd.AddCommand(newPluginsListCommand(configPath))
	cmd.AddCommand(newPluginsLoadCommand(configPath))

	return cmd
}

func newPluginsListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered plugins after a discovery sweep",
		Long: `List runs the discovery sweep across all enabled loaders and prints the
resulting registry contents, one row per (process_id, version).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			if err := rt.Start(ctx); err != nil {
				return fmt.Errorf("failed to start runtime: %w", err)
			}
			defer rt.Stop(ctx)

			fmt.Println(renderPluginTable(metadataList(rt.Registry.GetAll())))
			return nil
		},
	}
}

func newPluginsLoadCommand(configPath *string) *cobra.Command {
	var (
		processID  string
		version    string
		sourceType string
		sourceURI  string
		groupID    string
		artifactID string
		checksum   string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a single plugin from an explicit source descriptor",
		Long: `Load resolves the given descriptor through the loader chain and registers
the plugin it yields.

Examples:
  flowplane plugins load --process-id payment.settle --version 2.1.0 \
    --source remote-maven --group com.acme.flows --artifact settle
  flowplane plugins load --process-id refund.check --version 1.0.0 \
    --source local-archive --uri ./plugins/refund_check.lua`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			rt, err := buildRuntime(*configPath)
			if err != nil {
				return err
			}
			if err := rt.Manager.Init(ctx); err != nil {
				return fmt.Errorf("failed to init loaders: %w", err)
			}
			defer rt.Stop(ctx)

			desc := process.Descriptor{
				ProcessID:  processID,
				Version:    version,
				SourceType: process.SourceType(sourceType),
				SourceURI:  sourceURI,
				GroupID:    groupID,
				ArtifactID: artifactID,
				Checksum:   checksum,
			}
			plugin, err := rt.Manager.Load(ctx, desc)
			if err != nil {
				return fmt.Errorf("load failed: %w", err)
			}

			md := plugin.Metadata()
			fmt.Printf("Loaded %s (category: %s, source: %s)\n", md.Key(), md.Category, md.SourceType)
			return nil
		},
	}

	cmd.Flags().StringVar(&processID, "process-id", "", "process identifier (required)")
	cmd.Flags().StringVar(&version, "version", "latest", "plugin version or 'latest'")
	cmd.Flags().StringVar(&sourceType, "source", string(process.SourceLocalArchive), "source type: embedded, local-archive, remote-maven, remote-http")
	cmd.Flags().StringVar(&sourceURI, "uri", "", "artifact path or URL")
	cmd.Flags().StringVar(&groupID, "group", "", "maven group id")
	cmd.Flags().StringVar(&artifactID, "artifact", "", "maven artifact id")
	cmd.Flags().StringVar(&checksum, "checksum", "", "expected SHA-256 of the artifact")
	_ = cmd.MarkFlagRequired("process-id")

	return cmd
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	deprecatedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func metadataList(plugins []process.Plugin) []process.Metadata {
	out := make([]process.Metadata, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessID != out[j].ProcessID {
			return out[i].ProcessID < out[j].ProcessID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func renderPluginTable(items []process.Metadata) string {
	if len(items) == 0 {
		return dimStyle.Render("No plugins registered.")
	}

	header := tableHeaderStyle.Render(fmt.Sprintf("%-30s │ %-10s │ %-14s │ %-14s │ %s",
		"PROCESS", "VERSION", "CATEGORY", "SOURCE", "FLAGS"))

	rows := []string{header}
	for _, md := range items {
		var flags []string
		if md.Deprecated {
			flags = append(flags, "deprecated")
		}
		if md.Vanilla {
			flags = append(flags, "vanilla")
		}
		line := fmt.Sprintf("%-30s │ %-10s │ %-14s │ %-14s │ %s",
			md.ProcessID, md.Version, md.Category, md.SourceType, strings.Join(flags, ","))
		if md.Deprecated {
			line = deprecatedStyle.Render(line)
		}
		rows = append(rows, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
