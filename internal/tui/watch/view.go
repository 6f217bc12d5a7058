package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/agentbridge/internal/style"
)

// renderView renders the entire view.
func (m *Model) renderView() string {
	if m.width > 0 && (m.width < 40 || m.height < 10) {
		return "Terminal too small. Please resize."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(paneStyle.Width(m.width).Render(m.output.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

// renderHeader renders the title, status line and channel table.
func (m *Model) renderHeader() string {
	var b strings.Builder

	title := "agentbridge watch"
	if m.baseURL != "" {
		title += " · " + m.baseURL
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if m.fetched.IsZero() {
		b.WriteString(labelStyle.Render("Connecting..."))
		b.WriteString("\n")
		return b.String()
	}

	st := m.status
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("agent"), style.State(st.ClaudeRunning, "running", "stopped"),
		labelStyle.Render("slack"), style.State(st.SlackConnected, "connected", "disconnected"),
		labelStyle.Render("up"), st.Uptime)
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		labelStyle.Render("dir"), st.CurrentDirectory,
		labelStyle.Render("session"), st.SessionTag)

	tbl := style.NewTable(
		style.Column{Name: "", Width: 1},
		style.Column{Name: "Channel", Width: 12},
		style.Column{Name: "Name", Width: 16},
		style.Column{Name: "Repo", Width: 28},
		style.Column{Name: "Queue", Width: 5, Align: style.AlignRight},
		style.Column{Name: "Msgs", Width: 5, Align: style.AlignRight},
	).SetIndent("")

	ids := make([]string, 0, len(st.Channels))
	for id := range st.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ch := st.Channels[id]
		cur := ""
		if id == st.CurrentChannel {
			cur = currentStyle.Render("*")
		}
		msgs := "-"
		if ch.Session != nil {
			msgs = fmt.Sprint(ch.Session.MessageCount)
		}
		tbl.AddRow(cur, id, ch.Name, ch.Repo, fmt.Sprint(ch.QueueSize), msgs)
	}
	b.WriteString(tbl.Render())
	return b.String()
}
