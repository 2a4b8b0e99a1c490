package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/internal/core/domain/process"
	"github.com/flowplane/flowplane/internal/core/ports"
	"github.com/flowplane/flowplane/internal/runtime"
)

// newDashboardCommand creates the dashboard subcommand
func newDashboardCommand(configPath *string) *cobra.Command {
	var refreshRate time.Duration
	var maxEvents int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live terminal view of the plugin registry and runtime events",
		Long: `Dashboard starts the runtime (discovery sweep plus hot-reload watcher)
and shows a live view of registered plugins and runtime events: loads,
reloads, executions, failures.

Keys: q quit, space pause, r force refresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(*configPath, refreshRate, maxEvents)
		},
	}

	cmd.Flags().DurationVar(&refreshRate, "refresh", 500*time.Millisecond, "refresh rate for live updates")
	cmd.Flags().IntVar(&maxEvents, "max-events", 50, "maximum number of events to keep on screen")

	return cmd
}

func runDashboard(configPath string, refreshRate time.Duration, maxEvents int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		rt.Stop(shutdownCtx)
	}()

	model := newDashboardModel(rt, refreshRate, maxEvents)
	program := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

type dashTickMsg time.Time

type dashEventMsg ports.Event

// dashboardModel holds the state for the Bubble Tea dashboard
type dashboardModel struct {
	rt          *runtime.Runtime
	events      <-chan ports.Event
	refreshRate time.Duration
	maxEvents   int

	plugins      []process.Metadata
	eventLog     []ports.Event
	paused       bool
	lastUpdate   time.Time
	windowWidth  int
	windowHeight int
}

func newDashboardModel(rt *runtime.Runtime, refreshRate time.Duration, maxEvents int) dashboardModel {
	return dashboardModel{
		rt:          rt,
		events:      rt.Events.Subscribe(),
		refreshRate: refreshRate,
		maxEvents:   maxEvents,
		plugins:     metadataList(rt.Registry.GetAll()),
		lastUpdate:  time.Now(),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.waitEventCmd())
}

func (m dashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshRate, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

func (m dashboardModel) waitEventCmd() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return nil
		}
		return dashEventMsg(event)
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.windowWidth = msg.Width
		m.windowHeight = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
			return m, nil
		case "r":
			m.plugins = metadataList(m.rt.Registry.GetAll())
			m.lastUpdate = time.Now()
			return m, nil
		}

	case dashTickMsg:
		if !m.paused {
			m.plugins = metadataList(m.rt.Registry.GetAll())
			m.lastUpdate = time.Now()
		}
		return m, m.tickCmd()

	case dashEventMsg:
		if !m.paused {
			m.eventLog = append(m.eventLog, ports.Event(msg))
			if len(m.eventLog) > m.maxEvents {
				m.eventLog = m.eventLog[len(m.eventLog)-m.maxEvents:]
			}
		}
		return m, m.waitEventCmd()
	}

	return m, nil
}

func (m dashboardModel) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		renderPluginTable(m.plugins),
		m.renderEvents(),
		m.renderFooter(),
	)
}

func (m dashboardModel) renderHeader() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Render("Flowplane Dashboard")

	started, completed, failed := m.rt.Metrics.Counters()
	stats := fmt.Sprintf("Processes: %d | Versions: %d | Exec: %d/%d (%d failed)",
		m.rt.Registry.Size(), m.rt.Registry.VersionCount(), completed, started, failed)

	status := "LIVE"
	statusStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	if m.paused {
		status = "PAUSED"
		statusStyle = statusStyle.Foreground(lipgloss.Color("196"))
	}

	line := lipgloss.JoinHorizontal(lipgloss.Left,
		title, "  ", stats, "  ", statusStyle.Render(status))
	sub := dimStyle.Render(fmt.Sprintf("Last update: %s", m.lastUpdate.Format("15:04:05")))

	return lipgloss.JoinVertical(lipgloss.Left, line, sub, "")
}

func (m dashboardModel) renderEvents() string {
	if len(m.eventLog) == 0 {
		return dimStyle.Render("\n  No events yet. Waiting for loader or execution activity...\n")
	}

	header := tableHeaderStyle.Render(fmt.Sprintf("\n%-8s │ %-22s │ %-30s │ %s",
		"TIME", "EVENT", "PROCESS", "DETAIL"))

	rows := []string{header}
	visible := m.eventLog
	if maxRows := m.windowHeight - len(m.plugins) - 12; maxRows > 0 && len(visible) > maxRows {
		visible = visible[len(visible)-maxRows:]
	}
	for i := len(visible) - 1; i >= 0; i-- {
		e := visible[i]
		key := e.ProcessID
		if e.Version != "" {
			key = e.ProcessID + "@" + e.Version
		}
		line := fmt.Sprintf("%-8s │ %-22s │ %-30s │ %s",
			e.Timestamp.Format("15:04:05"), e.Type, key, e.Detail)
		if e.Type == ports.EventExecutionFailed || e.Type == ports.EventHealthCheckFailed {
			line = deprecatedStyle.Render(line)
		}
		rows = append(rows, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m dashboardModel) renderFooter() string {
	return dimStyle.Render("\nq: quit  space: pause  r: refresh")
}
