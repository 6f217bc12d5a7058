package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/transcript"
	"github.com/steveyegge/agentbridge/internal/ui"
)

var transcriptRaw bool

var transcriptCmd = &cobra.Command{
	Use:     "transcript",
	GroupID: GroupHooks,
	Short:   "Inspect Claude Code transcripts",
	RunE:    requireSubcommand,
}

var transcriptLastCmd = &cobra.Command{
	Use:   "last <transcript.jsonl>",
	Short: "Print the last assistant message the Stop hook would forward",
	Long: `Print the text the Stop hook would send for a transcript: the most recent
assistant turn that contains text, skipping tool-only turns.

Markdown is rendered for terminals; use --raw for the exact text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return exitcode.FileNotFound(path)
		}
		text, ok := transcript.LastAssistantText(path)
		if !ok {
			return exitcode.Newf(exitcode.ErrGeneral, "no assistant text in %s", path)
		}

		out := cmd.OutOrStdout()
		if transcriptRaw || !ui.IsTerminal() {
			fmt.Fprintln(out, text)
			return nil
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(ui.TerminalWidth(100)),
		)
		if err != nil {
			fmt.Fprintln(out, text)
			return nil
		}
		rendered, err := r.Render(text)
		if err != nil {
			fmt.Fprintln(out, text)
			return nil
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

func init() {
	transcriptLastCmd.Flags().BoolVar(&transcriptRaw, "raw", false, "Print the text without markdown rendering")
	transcriptCmd.AddCommand(transcriptLastCmd)
	rootCmd.AddCommand(transcriptCmd)
}
