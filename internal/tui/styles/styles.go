// Package styles holds the lipgloss palette and styles of storyloop's
// terminal output.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on dark backgrounds
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray
	BlueColor      = lipgloss.Color("#60A5FA") // Blue

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	Label = lipgloss.NewStyle().
		Foreground(MutedColor).
		Width(12)

	// Paused banner
	PauseBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(WarningColor).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(WarningColor).
			Padding(0, 1)

	// Confirmation dialog
	DialogBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(1, 2)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)
)

// ResultColor returns the color for a phase result or reconciliation outcome.
func ResultColor(result string) lipgloss.Color {
	switch result {
	case "advanced", "corrected", "done":
		return SecondaryColor
	case "paused":
		return WarningColor
	case "retried", "ignored", "skipped", "declined":
		return BlueColor
	case "failed", "error":
		return ErrorColor
	default:
		return MutedColor
	}
}

// ResultIcon returns an icon for a phase result or reconciliation outcome.
func ResultIcon(result string) string {
	switch result {
	case "advanced", "corrected", "done":
		return "✓"
	case "paused":
		return "⏸"
	case "retried":
		return "↻"
	case "ignored", "skipped":
		return "↷"
	case "declined":
		return "○"
	case "failed", "error":
		return "✗"
	default:
		return "●"
	}
}
