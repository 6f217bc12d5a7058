package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/eventbus"
	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/tui/watch"
	"github.com/steveyegge/agentbridge/internal/ui"
)

var (
	watchInterval  = watch.DefaultPollInterval
	attachRouting  bool
	attachNoOutput bool
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: GroupServices,
	Short:   "Live dashboard of a running bridge",
	Long: `Open a terminal dashboard for a running bridge.

The top pane shows agent and Slack state and every channel's session and
queue, refreshed on an interval. The bottom pane follows the agent's
terminal output and marks each message routed in or out.

Keys: r refresh, c clear output, f toggle follow, ? help, q quit.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var attachCmd = &cobra.Command{
	Use:     "attach",
	GroupID: GroupAgent,
	Short:   "Stream the agent's terminal output to stdout",
	Long: `Stream the live output of the agent session from a running bridge.

Reconnects with backoff when the bridge restarts. Use --routing to also
print a line for each message routed to or from a channel.`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", watch.DefaultPollInterval, "Status refresh interval")
	attachCmd.Flags().BoolVar(&attachRouting, "routing", false, "Print routing events")
	attachCmd.Flags().BoolVar(&attachNoOutput, "no-output", false, "Suppress agent output (use with --routing)")
	rootCmd.AddCommand(watchCmd, attachCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !ui.IsTerminal() {
		return exitcode.New(exitcode.ErrUsage, "watch needs a terminal; use 'agentbridge status' or 'agentbridge attach'")
	}

	c := newClient()
	model := watch.New(c, c.BaseURL(), watchInterval)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		_ = c.Stream(ctx, func(ev eventbus.Event) {
			p.Send(watch.EventMsg(ev))
		})
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient()
	out := cmd.OutOrStdout()
	err := c.Stream(ctx, func(ev eventbus.Event) {
		switch ev.Type {
		case eventbus.EventOutput:
			if !attachNoOutput {
				fmt.Fprint(out, ev.Text)
			}
		default:
			if attachRouting {
				fmt.Fprintf(out, "\n[%s] %s %s\n", ev.Time.Format("15:04:05"), ev.Type, ev.ChannelID)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return clientError(c, err)
	}
	return nil
}
