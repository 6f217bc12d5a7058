// Package style holds the lipgloss styles and table renderer used by the
// agentbridge CLI.
package style

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/steveyegge/agentbridge/internal/ui"
)

var (
	colorGreen  = lipgloss.Color("76")
	colorOrange = lipgloss.Color("214")
	colorRed    = lipgloss.Color("196")
	colorBlue   = lipgloss.Color("39")
	colorMuted  = lipgloss.Color("242")
)

var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Header  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	Success = lipgloss.NewStyle().Foreground(colorGreen)
	Warning = lipgloss.NewStyle().Foreground(colorOrange)
	Error   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(colorMuted)
)

// Init picks the colour profile for stdout. Colour is dropped when stdout
// is not a terminal or NO_COLOR is set.
func Init() {
	if ui.ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.EnvColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Icon returns icon when emoji output is enabled, fallback otherwise.
func Icon(icon, fallback string) string {
	if ui.ShouldUseEmoji() {
		return icon
	}
	return fallback
}

// State renders a running/stopped flag.
func State(ok bool, yes, no string) string {
	if ok {
		return Success.Render(Icon("●", "+") + " " + yes)
	}
	return Error.Render(Icon("○", "-") + " " + no)
}
