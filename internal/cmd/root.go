// Package cmd provides the CLI commands for the agentbridge tool.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/style"
)

var (
	configPath string
	bridgeURL  string
)

var rootCmd = &cobra.Command{
	Use:     "agentbridge",
	Short:   "Bridge Slack channels to a Claude Code session",
	Version: Version,
	Long: `agentbridge drives one Claude Code terminal session from Slack.

Each registered Slack channel maps to a repository. Messages posted in a
channel are queued per channel, the agent is moved to that repository and
the message is typed into the session. When Claude Code finishes a turn its
Stop hook posts the answer back to the channel that asked.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		style.Init()
	},
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var silent *SilentExitError
		if errors.As(err, &silent) {
			return silent.Code
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", style.Error.Render("Error:"), err)
		return exitcode.Code(err)
	}
	return exitcode.Success
}

// SilentExitError ends a command with Code and no message. Commands that
// report through their output, such as the hook, use it.
type SilentExitError struct {
	Code int
}

func (e *SilentExitError) Error() string {
	return fmt.Sprintf("exit %d", e.Code)
}

// Command group IDs - used by subcommands to organize help output
const (
	GroupServices = "services"
	GroupAgent    = "agent"
	GroupHooks    = "hooks"
	GroupConfig   = "config"
	GroupDiag     = "diag"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupAgent, Title: "Agent Management:"},
		&cobra.Group{ID: GroupHooks, Title: "Hooks:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: $CLAUDE_SLACK_CONFIG or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&bridgeURL, "url", "",
		"Bridge API URL (default: $CLAUDE_SLACK_BRIDGE_URL or http://localhost:9876)")
}

// buildCommandPath walks the command hierarchy to build the full command path.
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns an error for parent commands run without a
// known subcommand, so they do not silently print help and exit 0.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return exitcode.Newf(exitcode.ErrUsage, "requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return exitcode.Newf(exitcode.ErrUsage, "unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
