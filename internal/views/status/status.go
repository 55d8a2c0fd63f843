package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tabcast/relay/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	// State is "connecting", "live", "closed" or "error".
	State  string
	Detail string
	URL    string
	Relay  string
	Width  int
}

// New creates a status bar model for the relay at relay.
func New(relay string) Model {
	return Model{State: "connecting", Relay: relay}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	label := m.State
	if m.Detail != "" {
		label += ": " + m.Detail
	}
	connStr := lipgloss.NewStyle().
		Foreground(theme.StateColor(m.State)).
		Render(fmt.Sprintf("%s %s", theme.StateGlyph(m.State), label))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + theme.StyleDimmed.Render(m.Relay)
	if m.URL != "" {
		url := m.URL
		if max := width - lipgloss.Width(content) - 10; max > 10 && len(url) > max {
			url = url[:max-3] + "..."
		}
		content += sep + theme.StyleURL.Render(url)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
