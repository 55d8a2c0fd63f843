// Package theme provides the Lip Gloss color palette and reusable styles
// for tabcast-top. It is a leaf package with no internal imports to avoid
// import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection colors.
var (
	ColorLive       = lipgloss.Color("#22c55e")
	ColorConnecting = lipgloss.Color("#d97706")
	ColorClosed     = lipgloss.Color("#6b7280")
	ColorFailed     = lipgloss.Color("#dc2626")
)

// Debug log kind colors.
var (
	ColorKindWS  = lipgloss.Color("#2563eb")
	ColorKindURL = lipgloss.Color("#7c3aed")
	ColorKindCmd = lipgloss.Color("#06b6d4")
)

// Frame size thresholds.
var (
	ColorFrameSmall  = lipgloss.Color("#22c55e") // <256 KiB
	ColorFrameMedium = lipgloss.Color("#d97706") // <1 MiB
	ColorFrameLarge  = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#3b82f6")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// StateColor returns the color for a connection state: "live",
// "connecting", "closed" or "error".
func StateColor(state string) lipgloss.Color {
	switch state {
	case "live":
		return ColorLive
	case "connecting":
		return ColorConnecting
	case "closed":
		return ColorClosed
	case "error":
		return ColorFailed
	default:
		return ColorDefault
	}
}

// StateGlyph returns a glyph for a connection state.
func StateGlyph(state string) string {
	switch state {
	case "live":
		return "●"
	case "connecting":
		return "◌"
	case "closed":
		return "○"
	case "error":
		return "✗"
	default:
		return "·"
	}
}

// FrameSizeColor returns the color for a frame of n bytes.
func FrameSizeColor(n int) lipgloss.Color {
	switch {
	case n >= 1<<20:
		return ColorFrameLarge
	case n >= 256<<10:
		return ColorFrameMedium
	default:
		return ColorFrameSmall
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleURL = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Underline(true)
)
