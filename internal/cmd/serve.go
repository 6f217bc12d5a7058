package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/bridge"
	"github.com/steveyegge/agentbridge/internal/channel"
	"github.com/steveyegge/agentbridge/internal/exitcode"
	"github.com/steveyegge/agentbridge/internal/format"
	"github.com/steveyegge/agentbridge/internal/hint"
	"github.com/steveyegge/agentbridge/internal/logging"
	"github.com/steveyegge/agentbridge/internal/process"
	"github.com/steveyegge/agentbridge/internal/registry"
	"github.com/steveyegge/agentbridge/internal/slackbot"
	"github.com/steveyegge/agentbridge/internal/telemetry"
)

var (
	serveHost      string
	servePort      int
	serveLogLevel  string
	serveLogFormat string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupServices,
	Short:   "Run the bridge (Slack intake, agent session and control API)",
	Long: `Run the bridge in the foreground.

The bridge connects to Slack over Socket Mode, starts Claude Code in the
default repository and serves the control API the Stop hook posts to.

API Endpoints:
  GET    /health                 Liveness and session count
  GET    /status                 Agent, Slack and per-channel state
  GET    /output                 Live agent output (Server-Sent Events)
  POST   /hook                   Completion from the Claude Code Stop hook
  POST   /restart                Restart Claude Code
  POST   /test                   Post a test message to every channel
  DELETE /sessions/{channel}     Drop a channel's session and queue

Endpoints other than /health and /status require the X-API-Key header when
bridge.api_key or $CLAUDE_SLACK_BRIDGE_API_KEY is set.

Examples:
  agentbridge serve                          # Use ./config.yaml
  agentbridge serve -c bridge.toml           # TOML config
  agentbridge serve --port 9000              # Override the API port
  agentbridge serve --log-level debug        # Log agent output lines`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Address to listen on (overrides bridge.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides bridge.port)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "Log format: text or json")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Bridge.Host = serveHost
	}
	if servePort != 0 {
		cfg.Bridge.Port = servePort
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
	if serveLogFormat != "" {
		cfg.Logging.Format = serveLogFormat
	}
	if err := cfg.Validate(); err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "invalid configuration", err)
	}

	logger := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Init(ctx, "agentbridge", Version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	hints, err := hint.Open(cfg.Routing.HintStore, cfg.Routing.HintDir)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "opening hint store", err)
	}
	defer hints.Close()

	directory, err := channel.NewDirectory(cfg.Channels(),
		channel.WithHintStore(hints),
		channel.WithLogger(logger),
	)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "registering channels", err)
	}

	// The agent exports telemetry under one tag per bridge process; the
	// registry's session tag changes on every start.
	instance := uuid.NewString()
	procOpts := append(cfg.Agent.ProcessOptions(telemetry.AgentEnv(instance)...), process.WithLogger(logger))
	reg := registry.New(registry.ProcessFactory(procOpts...),
		registry.WithChangeDirTemplate(cfg.Agent.CDTemplate),
		registry.WithLogger(logger),
	)

	bot, err := slackbot.New(slackbot.Config{
		BotToken:       cfg.Slack.BotToken,
		AppToken:       cfg.Slack.AppToken,
		AllowedUserIDs: cfg.Slack.AllowedUserIDs,
		Debug:          cfg.Slack.Debug,
	}, directory, format.New(cfg.FormatOptions()), slackbot.WithLogger(logger))
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "configuring slack", err)
	}

	b := bridge.New(reg, directory, bot, bridge.Options{
		DefaultRepo:       cfg.Sessions.DefaultRepo,
		StartupWarmup:     cfg.Agent.StartupWarmup,
		ArchiveAfter:      cfg.ArchiveAfter(),
		IdleTimeout:       cfg.Queue.IdleTimeout,
		InterMessageDelay: cfg.Queue.InterMessageDelay,
		ErrorBackoff:      cfg.Queue.ErrorBackoff,
		DedupWindow:       cfg.Routing.DedupWindow,
		RestoreChannel:    cfg.Routing.RestoreCurrentChannel,
		Version:           Version,
		Logger:            logger,
	})
	server := api.NewServer(b, cfg.Addr(),
		api.WithAPIKey(cfg.Bridge.APIKey),
		api.WithLogger(logger),
	)

	logger.Info("bridge starting",
		"version", Version,
		"config", cfg.Source,
		"addr", cfg.Addr(),
		"channels", len(cfg.Sessions.Channels),
		"default_repo", cfg.Sessions.DefaultRepo,
		"instance", instance,
	)
	for _, ch := range cfg.Channels() {
		logger.Info("channel registered", "channel", ch.ID, "name", ch.Name, "repo", ch.Repo)
	}

	if err := b.Run(ctx, server.Run); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bridge: %w", err)
	}
	logger.Info("bridge stopped")
	return nil
}
