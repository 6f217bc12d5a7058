package watch

import "github.com/charmbracelet/lipgloss"

var (
	colorBlue  = lipgloss.Color("39")
	colorMuted = lipgloss.Color("242")
	colorRed   = lipgloss.Color("196")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	currentStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	markerStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Italic(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(colorMuted)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

func marker(s string) string {
	return markerStyle.Render(s)
}
