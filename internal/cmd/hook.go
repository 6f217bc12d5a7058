package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/client"
	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/hint"
	"github.com/steveyegge/agentbridge/internal/hook"
	"github.com/steveyegge/agentbridge/internal/style"
)

var (
	hookHintDir      string
	installSettings  string
	installCommand   string
	installCheckOnly bool
)

var hookCmd = &cobra.Command{
	Use:     "hook",
	GroupID: GroupHooks,
	Short:   "Claude Code hook commands",
	RunE:    requireSubcommand,
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Forward a finished turn to the bridge (run by Claude Code)",
	Long: `Read a Claude Code Stop hook event on stdin and post the last assistant
message to the bridge, addressed to the channel the agent was working for.

Always prints {"continue": false} and exits 0 so Claude Code is never
blocked; problems are reported on stderr. Repeated messages are skipped.

Environment:
  CLAUDE_SLACK_BRIDGE_URL       Bridge API (default http://localhost:9876)
  CLAUDE_SLACK_BRIDGE_API_KEY   Sent as X-API-Key when set`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := &hook.StopHook{
			Poster: newClient(client.WithTimeout(hook.DefaultTimeout), client.WithMaxRetries(1)),
			Hints:  hint.NewFileStore(hookDir()),
			Dir:    hookDir(),
			Stderr: cmd.ErrOrStderr(),
		}
		h.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		return nil
	},
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Add the Stop hook to Claude Code settings",
	Long: `Add a Stop hook running 'agentbridge hook stop' to Claude Code's
settings.json. Comments and other settings in the file are kept, and an
existing hook for the same command is left alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if installCheckOnly {
			ok, err := hook.Installed(installSettings, installCommand)
			if err != nil {
				return exitcode.Wrap(exitcode.ErrConfig, "checking hook", err)
			}
			fmt.Fprintf(out, "%s %s\n", style.State(ok, "installed", "not installed"), installSettings)
			if !ok {
				return &SilentExitError{Code: exitcode.ErrGeneral}
			}
			return nil
		}

		changed, err := hook.Install(installSettings, installCommand)
		if err != nil {
			return exitcode.Wrap(exitcode.ErrConfig, "installing hook", err)
		}
		if changed {
			fmt.Fprintf(out, "%s Stop hook added to %s\n", style.Success.Render(style.Icon("✓", "OK")), installSettings)
		} else {
			fmt.Fprintf(out, "Stop hook already present in %s\n", installSettings)
		}
		return nil
	},
}

func init() {
	hookStopCmd.Flags().StringVar(&hookHintDir, "state-dir", "", "Directory for hint and dedup state (default ~/.claude/hooks)")
	hookInstallCmd.Flags().StringVar(&installSettings, "settings", hook.DefaultSettingsPath(), "Claude Code settings file")
	hookInstallCmd.Flags().StringVar(&installCommand, "command", hook.DefaultCommand, "Hook command to install")
	hookInstallCmd.Flags().BoolVar(&installCheckOnly, "check", false, "Only report whether the hook is installed")

	hookCmd.AddCommand(hookStopCmd, hookInstallCmd)
	rootCmd.AddCommand(hookCmd)
}

func hookDir() string {
	if hookHintDir != "" {
		return hookHintDir
	}
	if dir := os.Getenv("AGENTBRIDGE_STATE_DIR"); dir != "" {
		return dir
	}
	return hint.DefaultDir()
}
