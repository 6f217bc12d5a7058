package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/client"
	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/style"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: GroupDiag,
	Short:   "Show bridge, agent and channel status",
	Long: `Show the state of a running bridge: whether Claude Code and Slack are
up, which channel the agent last worked for, and each channel's repository,
session and queue.

Exits 50 when the bridge is up but Claude Code is not running.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var restartCmd = &cobra.Command{
	Use:     "restart",
	GroupID: GroupAgent,
	Short:   "Restart the Claude Code session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.Restart(cmd.Context())
		if err != nil {
			if resp.Message != "" {
				return exitcode.New(exitcode.ErrAgentDown, resp.Message)
			}
			return clientError(c, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", style.Success.Render(style.Icon("✓", "OK")), resp.Message)
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:     "test",
	GroupID: GroupDiag,
	Short:   "Post a test message to every registered channel",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.Test(cmd.Context())
		if err != nil {
			return clientError(c, err)
		}
		out := cmd.OutOrStdout()
		ids := make([]string, 0, len(resp.Results))
		for id := range resp.Results {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		failed := 0
		for _, id := range ids {
			ok := resp.Results[id] == "sent"
			if !ok {
				failed++
			}
			fmt.Fprintf(out, "  %s  %s\n", style.State(ok, "sent", "failed"), id)
		}
		if failed > 0 {
			return &SilentExitError{Code: exitcode.ErrGeneral}
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear <channel-id>",
	GroupID: GroupAgent,
	Short:   "Drop a channel's session and pending messages",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.ClearSession(cmd.Context(), args[0])
		if err != nil {
			if client.IsStatus(err, http.StatusNotFound) {
				return exitcode.ChannelNotFound(args[0])
			}
			return clientError(c, err)
		}
		state := "no session"
		if resp.HadSession {
			state = "session cleared"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d pending message(s) discarded\n",
			resp.ChannelID, state, resp.DiscardedMessages)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd, restartCmd, testCmd, clearCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	st, err := c.Status(cmd.Context())
	if err != nil {
		return clientError(c, err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		renderStatus(out, c.BaseURL(), st, time.Now())
	}

	if !st.ClaudeRunning {
		return &SilentExitError{Code: exitcode.ErrAgentDown}
	}
	return nil
}

func renderStatus(w io.Writer, url string, st api.Status, now time.Time) {
	fmt.Fprintf(w, "%s %s\n\n", style.Header.Render("agentbridge"), style.Dim.Render(url))
	fmt.Fprintf(w, "  Claude Code  %s\n", style.State(st.ClaudeRunning, "running", "stopped"))
	fmt.Fprintf(w, "  Slack        %s\n", style.State(st.SlackConnected, "connected", "disconnected"))
	if st.CurrentDirectory != "" {
		fmt.Fprintf(w, "  Directory    %s\n", st.CurrentDirectory)
	}
	if st.SessionTag != "" {
		fmt.Fprintf(w, "  Session      %s\n", style.Dim.Render(st.SessionTag))
	}
	if st.Uptime != "" {
		fmt.Fprintf(w, "  Uptime       %s\n", st.Uptime)
	}
	if st.Version != "" {
		fmt.Fprintf(w, "  Version      %s\n", st.Version)
	}
	fmt.Fprintln(w)

	if len(st.Channels) == 0 {
		fmt.Fprintln(w, style.Dim.Render("  No channels registered."))
		return
	}

	tbl := style.NewTable(
		style.Column{Name: "", Width: 1},
		style.Column{Name: "CHANNEL", Width: 12},
		style.Column{Name: "NAME", Width: 16},
		style.Column{Name: "REPO", Width: 32},
		style.Column{Name: "QUEUE", Width: 5, Align: style.AlignRight},
		style.Column{Name: "MSGS", Width: 5, Align: style.AlignRight},
		style.Column{Name: "IDLE", Width: 8, Align: style.AlignRight},
	)

	ids := make([]string, 0, len(st.Channels))
	for id := range st.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ch := st.Channels[id]
		cur := ""
		if id == st.CurrentChannel {
			cur = style.Bold.Render("*")
		}
		msgs, idle := "-", "-"
		if ch.Session != nil {
			msgs = fmt.Sprint(ch.Session.MessageCount)
			idle = now.Sub(ch.Session.LastActivity).Round(time.Second).String()
		}
		tbl.AddRow(cur, id, ch.Name, ch.Repo, fmt.Sprint(ch.QueueSize), msgs, idle)
	}
	fmt.Fprint(w, tbl.Render())
}
