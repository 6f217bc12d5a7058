package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/config"
	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/style"
)

var (
	configInitFormat string
	configInitForce  bool
	configShowFormat string
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupConfig,
	Short:   "Create, show and check the bridge configuration",
	RunE:    requireSubcommand,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration",
	Long: `Write an example configuration with placeholder Slack tokens and one
channel. The format follows the file extension (.toml for TOML, anything
else YAML) unless --format is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configPath)
		if len(args) == 1 {
			path = args[0]
		}
		if !configInitForce {
			if _, err := os.Stat(path); err == nil {
				return exitcode.AlreadyExists(path)
			}
		}
		if err := config.WriteExample(path, configInitFormat, configInitForce); err != nil {
			return exitcode.Wrap(exitcode.ErrConfig, "writing config", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", style.Success.Render(style.Icon("✓", "OK")), path)
		fmt.Fprintln(cmd.OutOrStdout(), "Set SLACK_BOT_TOKEN and SLACK_APP_TOKEN, then edit the channels section.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := config.Encode(cfg.Redacted(), configShowFormat)
		if err != nil {
			return exitcode.Wrap(exitcode.ErrUsage, "encoding config", err)
		}
		if cfg.Source == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), style.Dim.Render("# no config file found; showing defaults and environment"))
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return exitcode.Wrap(exitcode.ErrConfig, "invalid configuration", err)
		}
		src := cfg.Source
		if src == "" {
			src = "defaults and environment"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d channel(s)\n",
			style.Success.Render(style.Icon("✓", "OK")), src, len(cfg.Sessions.Channels))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitFormat, "format", "", "Output format: yaml or toml")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringVar(&configShowFormat, "format", config.FormatYAML, "Output format: yaml or toml")

	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
