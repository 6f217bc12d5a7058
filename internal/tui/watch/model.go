// Package watch is the live bridge dashboard behind `agentbridge watch`:
// agent and Slack state, per-channel sessions and queues, and a tail of
// the agent's terminal output.
package watch

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/eventbus"
)

// DefaultPollInterval is how often status is refreshed.
const DefaultPollInterval = 2 * time.Second

// maxLines bounds the output tail.
const maxLines = 2000

// StatusSource fetches bridge status. *client.Client satisfies it.
type StatusSource interface {
	Status(ctx context.Context) (api.Status, error)
}

// Model is the watch TUI model.
type Model struct {
	source   StatusSource
	interval time.Duration

	status  api.Status
	err     error
	fetched time.Time

	lines    []string
	partial  string
	follow   bool
	output   viewport.Model
	keys     KeyMap
	help     help.Model
	width    int
	height   int
	baseURL  string
	quitting bool
}

// New creates a model polling source every interval.
func New(source StatusSource, baseURL string, interval time.Duration) *Model {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	h := help.New()
	h.ShowAll = false
	return &Model{
		source:   source,
		interval: interval,
		follow:   true,
		output:   viewport.New(0, 0),
		keys:     DefaultKeyMap(),
		help:     h,
		baseURL:  baseURL,
	}
}

// EventMsg carries a bridge event into the program. Send it with
// tea.Program.Send from the stream reader.
type EventMsg eventbus.Event

// statusMsg is sent when a status fetch completes.
type statusMsg struct {
	status api.Status
	err    error
	at     time.Time
}

// tickMsg is sent on each poll interval.
type tickMsg time.Time

// Init starts polling.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.tick(),
		tea.SetWindowTitle("agentbridge watch"),
	)
}

func (m *Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := m.source.Status(ctx)
		return statusMsg{status: st, err: err, at: time.Now()}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resizeOutput()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resizeOutput()
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetchStatus()
		case key.Matches(msg, m.keys.Clear):
			m.lines = nil
			m.partial = ""
			m.syncOutput()
		case key.Matches(msg, m.keys.Follow):
			m.follow = !m.follow
			if m.follow {
				m.output.GotoBottom()
			}
		case key.Matches(msg, m.keys.Up):
			m.follow = false
			m.output.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.output.ScrollDown(1)
		case key.Matches(msg, m.keys.PageUp):
			m.follow = false
			m.output.HalfPageUp()
		case key.Matches(msg, m.keys.PageDown):
			m.output.HalfPageDown()
		}

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.fetched = msg.at
		}
		m.resizeOutput()

	case tickMsg:
		cmds = append(cmds, m.fetchStatus(), m.tick())

	case EventMsg:
		m.appendEvent(eventbus.Event(msg))
	}

	return m, tea.Batch(cmds...)
}

// appendEvent adds an event to the output tail. Output chunks are joined
// into lines; other events get one marker line each.
func (m *Model) appendEvent(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventOutput:
		text := m.partial + ev.Text
		parts := strings.Split(text, "\n")
		m.partial = parts[len(parts)-1]
		m.lines = append(m.lines, parts[:len(parts)-1]...)
	case eventbus.EventEnqueued:
		m.lines = append(m.lines, marker("→ "+ev.ChannelID+": "+firstLine(ev.Text)))
	case eventbus.EventCompletion:
		m.lines = append(m.lines, marker("← "+ev.ChannelID+": "+firstLine(ev.Text)))
	case eventbus.EventAgentStarted:
		m.lines = append(m.lines, marker("agent started"))
	case eventbus.EventAgentStopped:
		m.lines = append(m.lines, marker("agent stopped"))
	}
	if over := len(m.lines) - maxLines; over > 0 {
		m.lines = m.lines[over:]
	}
	m.syncOutput()
}

func (m *Model) syncOutput() {
	content := strings.Join(m.lines, "\n")
	if m.partial != "" {
		if content != "" {
			content += "\n"
		}
		content += m.partial
	}
	m.output.SetContent(content)
	if m.follow {
		m.output.GotoBottom()
	}
}

// resizeOutput gives the output pane whatever the header and help leave.
func (m *Model) resizeOutput() {
	used := strings.Count(m.renderHeader(), "\n") + 3
	if m.help.ShowAll {
		used += 4
	}
	h := m.height - used
	if h < 3 {
		h = 3
	}
	m.output.Width = m.width
	m.output.Height = h
}

// View renders the model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderView()
}

// Lines returns the completed output lines, for tests.
func (m *Model) Lines() []string {
	return append([]string(nil), m.lines...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
