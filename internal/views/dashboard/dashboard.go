// Package dashboard provides the relay stats row and process table for
// tabcast-top.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tabcast/relay/internal/client"
	"github.com/tabcast/relay/internal/theme"
)

// Model holds the dashboard state.
type Model struct {
	Width int

	Status    *client.ConnectionInfo
	StatusErr error
	Frames    client.FrameStats
	Process   *client.ProcessReport
	Now       time.Time
}

// New creates a dashboard model.
func New() Model {
	return Model{}
}

// View renders the full dashboard: stats row + process table.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	sections := []string{
		m.renderStatsRow(width),
		m.renderProcesses(width),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderStatsRow shows relay and frame counters in a single row.
func (m Model) renderStatsRow(width int) string {
	statStyle := lipgloss.NewStyle().Padding(0, 1)
	var stats []string

	switch {
	case m.StatusErr != nil:
		stats = append(stats, statStyle.Foreground(theme.ColorDanger).Render("status unavailable"))
	case m.Status != nil:
		listening := statStyle.Foreground(theme.ColorLive).Render("listening")
		if !m.Status.Listening {
			listening = statStyle.Foreground(theme.ColorFailed).Render("stopped")
		}
		stats = append(stats,
			listening,
			statStyle.Foreground(theme.ColorBright).Render(
				fmt.Sprintf("Viewers: %d", m.Status.ActiveConnections)),
			statStyle.Foreground(theme.ColorDimmed).Render(
				fmt.Sprintf("Idle: %s", formatSeconds(m.Status.SecondsInactive))),
		)
	default:
		stats = append(stats, statStyle.Foreground(theme.ColorDimmed).Render("waiting for status"))
	}

	stats = append(stats,
		statStyle.Foreground(theme.ColorAccent).Render(
			fmt.Sprintf("Frames: %d", m.Frames.Count)),
		statStyle.Foreground(theme.ColorBright).Render(
			fmt.Sprintf("%.1f fps", m.Frames.Rate(m.Now))),
		statStyle.Foreground(theme.FrameSizeColor(m.Frames.LastBytes)).Render(
			fmt.Sprintf("Last: %s", formatBytes(uint64(m.Frames.LastBytes)))),
		statStyle.Foreground(theme.ColorDimmed).Render(
			fmt.Sprintf("Total: %s", formatBytes(uint64(m.Frames.TotalBytes)))),
	)

	content := strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | "))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

// renderProcesses lists the relay and its child processes by memory.
func (m Model) renderProcesses(width int) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBright).
		Render("  Processes")

	if m.Process == nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			theme.StyleDimmed.Render("  No process data"),
		)
	}

	procs := append([]client.ProcessInfo{m.Process.Self}, m.Process.Children...)
	sort.SliceStable(procs[1:], func(i, j int) bool {
		return procs[1+i].RSSBytes > procs[1+j].RSSBytes
	})

	colPID := 8
	colName := 22
	colRSS := 10
	colCPU := 18

	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)
	brightStyle := lipgloss.NewStyle().Foreground(theme.ColorBright).Bold(true)

	tableHeader := fmt.Sprintf("  %-*s %-*s %*s %-*s",
		colPID, "PID",
		colName, "Name",
		colRSS, "RSS",
		colCPU, "CPU",
	)
	lines := []string{
		header,
		dimStyle.Render(tableHeader),
		dimStyle.Render("  " + strings.Repeat("─", min(width-4, colPID+colName+colRSS+colCPU+3))),
	}

	for _, p := range procs {
		name := p.Name
		if len(name) > colName-1 {
			name = name[:colName-2] + "…"
		}
		nameColor := theme.ColorDefault
		if p.Browser {
			nameColor = theme.ColorAccent
		}
		nameStr := lipgloss.NewStyle().Foreground(nameColor).Width(colName).Render(name)
		pidStr := dimStyle.Width(colPID).Render(fmt.Sprintf("%d", p.PID))
		rssStr := brightStyle.Width(colRSS).Align(lipgloss.Right).Render(formatBytes(p.RSSBytes))
		cpuStr := lipgloss.NewStyle().Width(colCPU).Render(renderCPUBar(p.CPUPercent, colCPU-1))

		lines = append(lines, fmt.Sprintf("  %s %s %s %s", pidStr, nameStr, rssStr, cpuStr))
	}

	if m.Process.BrowserRSSBytes > 0 {
		lines = append(lines, dimStyle.Render(
			fmt.Sprintf("  browser total %s", formatBytes(m.Process.BrowserRSSBytes))))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderCPUBar draws a small progress bar for a CPU percentage.
func renderCPUBar(pct float64, barWidth int) string {
	if barWidth < 8 {
		barWidth = 8
	}
	// Reserve space for percentage label (e.g. " 100%").
	labelWidth := 5
	fillWidth := barWidth - labelWidth
	if fillWidth < 3 {
		fillWidth = 3
	}

	frac := pct / 100
	filled := max(0, min(int(frac*float64(fillWidth)), fillWidth))
	empty := fillWidth - filled

	color := theme.ColorLive
	switch {
	case frac > 0.8:
		color = theme.ColorDanger
	case frac > 0.5:
		color = theme.ColorWarning
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", empty))
	label := fmt.Sprintf(" %3.0f%%", pct)

	return bar + lipgloss.NewStyle().Foreground(color).Render(label)
}

// formatBytes formats sizes with KiB/MiB/GiB suffixes.
func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// formatSeconds renders an idle duration compactly.
func formatSeconds(s uint64) string {
	return (time.Duration(s) * time.Second).String()
}
