// Package config loads the bridge configuration from YAML or TOML, applies
// environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/agentbridge/internal/channel"
	"github.com/steveyegge/agentbridge/internal/format"
	"github.com/steveyegge/agentbridge/internal/hint"
	"github.com/steveyegge/agentbridge/internal/process"
	"github.com/steveyegge/agentbridge/internal/queue"
	"github.com/steveyegge/agentbridge/internal/registry"
)

// Environment variables consulted by Load and ResolvePath.
const (
	EnvConfigPath = "CLAUDE_SLACK_CONFIG"
	EnvBotToken   = "SLACK_BOT_TOKEN"
	EnvAppToken   = "SLACK_APP_TOKEN"
	EnvAPIKey     = "CLAUDE_SLACK_BRIDGE_API_KEY"
)

// DefaultPath is used when neither a flag nor EnvConfigPath names a file.
const DefaultPath = "config.yaml"

// Token prefixes Slack issues for bot and app-level tokens.
const (
	BotTokenPrefix = "xoxb-"
	AppTokenPrefix = "xapp-"
)

// Config is the full bridge configuration.
type Config struct {
	Slack      SlackConfig      `yaml:"slack" toml:"slack"`
	Bridge     BridgeConfig     `yaml:"bridge" toml:"bridge"`
	Formatting FormattingConfig `yaml:"formatting" toml:"formatting"`
	Sessions   SessionsConfig   `yaml:"sessions" toml:"sessions"`
	Agent      AgentConfig      `yaml:"agent" toml:"agent"`
	Queue      QueueConfig      `yaml:"queue" toml:"queue"`
	Routing    RoutingConfig    `yaml:"routing" toml:"routing"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`

	// Source is the file the config was read from, empty when defaults
	// were used.
	Source string `yaml:"-" toml:"-"`
}

// SlackConfig holds the Slack credentials and intake filter.
type SlackConfig struct {
	BotToken       string   `yaml:"bot_token" toml:"bot_token"`
	AppToken       string   `yaml:"app_token" toml:"app_token"`
	AllowedUserIDs []string `yaml:"allowed_user_ids" toml:"allowed_user_ids"`
	Debug          bool     `yaml:"debug" toml:"debug"`
}

// BridgeConfig is the HTTP control surface.
type BridgeConfig struct {
	Host   string `yaml:"host" toml:"host"`
	Port   int    `yaml:"port" toml:"port"`
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// FormattingConfig mirrors format.Options.
type FormattingConfig struct {
	Mode               string `yaml:"mode" toml:"mode"`
	MaxLength          int    `yaml:"max_length" toml:"max_length"`
	LongOutput         string `yaml:"long_output" toml:"long_output"`
	StripANSI          bool   `yaml:"strip_ansi" toml:"strip_ansi"`
	PreserveCodeBlocks bool   `yaml:"preserve_code_blocks" toml:"preserve_code_blocks"`
}

// ChannelConfig binds one Slack channel to a repository.
type ChannelConfig struct {
	Repo string `yaml:"repo" toml:"repo"`
	Name string `yaml:"name,omitempty" toml:"name,omitempty"`
}

// SessionsConfig lists the registered channels.
type SessionsConfig struct {
	Channels    map[string]ChannelConfig `yaml:"channels" toml:"channels"`
	DefaultRepo string                   `yaml:"default_repo" toml:"default_repo"`
	// AutoArchiveAfter is the idle time in seconds before a session is
	// pruned. Zero disables pruning.
	AutoArchiveAfter int `yaml:"auto_archive_after" toml:"auto_archive_after"`

	// ChannelID is the single-channel form used by older configs.
	ChannelID string `yaml:"channel_id,omitempty" toml:"channel_id,omitempty"`
}

// HandshakeStep is one keystroke of the agent's first-run script. Keys may
// be "enter", "up" or literal text.
type HandshakeStep struct {
	Delay time.Duration `yaml:"delay" toml:"delay"`
	Keys  string        `yaml:"keys" toml:"keys"`
}

// AgentConfig controls how the agent process is launched.
type AgentConfig struct {
	Command       []string        `yaml:"command" toml:"command"`
	Cols          int             `yaml:"cols" toml:"cols"`
	Rows          int             `yaml:"rows" toml:"rows"`
	SettleDelay   time.Duration   `yaml:"settle_delay" toml:"settle_delay"`
	StopAttempts  int             `yaml:"stop_attempts" toml:"stop_attempts"`
	StopInterval  time.Duration   `yaml:"stop_interval" toml:"stop_interval"`
	StartupWarmup time.Duration   `yaml:"startup_warmup" toml:"startup_warmup"`
	CDTemplate    string          `yaml:"cd_template" toml:"cd_template"`
	Handshake     []HandshakeStep `yaml:"handshake,omitempty" toml:"handshake,omitempty"`
	SkipHandshake bool            `yaml:"skip_handshake,omitempty" toml:"skip_handshake,omitempty"`
}

// QueueConfig tunes the per-channel dispatcher.
type QueueConfig struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	InterMessageDelay time.Duration `yaml:"inter_message_delay" toml:"inter_message_delay"`
	ErrorBackoff      time.Duration `yaml:"error_backoff" toml:"error_backoff"`
}

// RoutingConfig controls completion routing and the current-channel hint.
type RoutingConfig struct {
	HintStore   string        `yaml:"hint_store" toml:"hint_store"`
	HintDir     string        `yaml:"hint_dir" toml:"hint_dir"`
	DedupWindow time.Duration `yaml:"dedup_window" toml:"dedup_window"`

	// RestoreCurrentChannel seeds the current channel from the hint store
	// at startup. Off by default: a fresh bridge routes nothing until a
	// channel speaks.
	RestoreCurrentChannel bool `yaml:"restore_current_channel" toml:"restore_current_channel"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{Host: "0.0.0.0", Port: 9876},
		Formatting: FormattingConfig{
			Mode:               string(format.ModeFull),
			MaxLength:          format.DefaultMaxLength,
			LongOutput:         string(format.LongTruncate),
			StripANSI:          true,
			PreserveCodeBlocks: true,
		},
		Sessions: SessionsConfig{
			Channels:         map[string]ChannelConfig{},
			DefaultRepo:      "/workspace",
			AutoArchiveAfter: 3600,
		},
		Agent: AgentConfig{
			Command:       append([]string(nil), process.DefaultCommand...),
			Cols:          process.DefaultCols,
			Rows:          process.DefaultRows,
			SettleDelay:   process.DefaultSettleDelay,
			StopAttempts:  process.DefaultStopAttempts,
			StopInterval:  process.DefaultStopInterval,
			StartupWarmup: 2 * time.Second,
			CDTemplate:    registry.DefaultChangeDirTemplate,
		},
		Queue: QueueConfig{
			IdleTimeout:       queue.DefaultIdleTimeout,
			InterMessageDelay: queue.DefaultInterMessageDelay,
			ErrorBackoff:      queue.DefaultErrorBackoff,
		},
		Routing: RoutingConfig{
			HintStore:   hint.KindFile,
			DedupWindow: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// ResolvePath picks the config file: the flag value, then
// $CLAUDE_SLACK_CONFIG, then ./config.yaml.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults, migrates the legacy single-channel
// form and applies environment overrides. A missing file is not an error;
// the defaults and environment are used. Load does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.migrate()
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// migrate turns the old single channel_id form into a one-entry channel map.
func (c *Config) migrate() {
	if c.Sessions.ChannelID == "" || len(c.Sessions.Channels) > 0 {
		return
	}
	c.Sessions.Channels = map[string]ChannelConfig{
		c.Sessions.ChannelID: {Repo: c.Sessions.DefaultRepo, Name: "Default"},
	}
	c.Sessions.ChannelID = ""
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvBotToken); v != "" {
		c.Slack.BotToken = v
	}
	if v := getenv(EnvAppToken); v != "" {
		c.Slack.AppToken = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.Bridge.APIKey = v
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if err := validateToken(c.Slack.BotToken, EnvBotToken, BotTokenPrefix); err != nil {
		errs = append(errs, err)
	}
	if err := validateToken(c.Slack.AppToken, EnvAppToken, AppTokenPrefix); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.validateSettings()...)
	return errors.Join(errs...)
}

// ValidateSettings checks everything except the Slack tokens. Client-side
// commands use it since they never talk to Slack.
func (c *Config) ValidateSettings() error {
	return errors.Join(c.validateSettings()...)
}

func (c *Config) validateSettings() []error {
	var errs []error
	if len(c.Sessions.Channels) == 0 {
		errs = append(errs, errors.New("sessions.channels: at least one channel is required"))
	}
	for id, ch := range c.Sessions.Channels {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, errors.New("sessions.channels: empty channel ID"))
		}
		if ch.Repo == "" && c.Sessions.DefaultRepo == "" {
			errs = append(errs, fmt.Errorf("sessions.channels.%s: repo is required", id))
		}
	}
	if c.Sessions.AutoArchiveAfter < 0 {
		errs = append(errs, errors.New("sessions.auto_archive_after must not be negative"))
	}
	if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
		errs = append(errs, fmt.Errorf("bridge.port %d out of range", c.Bridge.Port))
	}
	if !oneOf(c.Formatting.Mode, string(format.ModeFull), string(format.ModeCompact), string(format.ModeCodeOnly)) {
		errs = append(errs, fmt.Errorf("formatting.mode %q: want full, compact or code-only", c.Formatting.Mode))
	}
	if !oneOf(c.Formatting.LongOutput, string(format.LongTruncate), string(format.LongSplit), string(format.LongFile)) {
		errs = append(errs, fmt.Errorf("formatting.long_output %q: want truncate, split or file", c.Formatting.LongOutput))
	}
	if c.Formatting.MaxLength < 100 {
		errs = append(errs, fmt.Errorf("formatting.max_length %d is too small", c.Formatting.MaxLength))
	}
	if len(c.Agent.Command) == 0 || c.Agent.Command[0] == "" {
		errs = append(errs, errors.New("agent.command is required"))
	}
	if c.Agent.Cols <= 0 || c.Agent.Rows <= 0 || c.Agent.Cols > 65535 || c.Agent.Rows > 65535 {
		errs = append(errs, fmt.Errorf("agent size %dx%d out of range", c.Agent.Cols, c.Agent.Rows))
	}
	if c.Agent.CDTemplate != "" && strings.Count(c.Agent.CDTemplate, "%s") != 1 {
		errs = append(errs, fmt.Errorf("agent.cd_template %q must contain exactly one %%s", c.Agent.CDTemplate))
	}
	if !oneOf(c.Routing.HintStore, hint.KindFile, hint.KindSQLite, hint.KindMemory) {
		errs = append(errs, fmt.Errorf("routing.hint_store %q: want file, sqlite or memory", c.Routing.HintStore))
	}
	if !oneOf(strings.ToLower(c.Logging.Level), "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Errorf("logging.level %q: want debug, info, warn or error", c.Logging.Level))
	}
	if !oneOf(c.Logging.Format, "text", "json") {
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}
	return errs
}

func validateToken(token, name, prefix string) error {
	if token == "" {
		return fmt.Errorf("%s is required but not set", name)
	}
	if !strings.HasPrefix(token, prefix) {
		shown := token
		if len(shown) > 10 {
			shown = shown[:10]
		}
		return fmt.Errorf("%s has invalid format: expected %q prefix, got %q...", name, prefix, shown)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Channels returns the registered channels sorted by ID. Channels without a
// repo fall back to the default repo.
func (c *Config) Channels() []channel.Channel {
	out := make([]channel.Channel, 0, len(c.Sessions.Channels))
	for id, ch := range c.Sessions.Channels {
		repo := ch.Repo
		if repo == "" {
			repo = c.Sessions.DefaultRepo
		}
		out = append(out, channel.Channel{ID: id, Repo: repo, Name: ch.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FormatOptions converts the formatting section.
func (c *Config) FormatOptions() format.Options {
	return format.Options{
		Mode:               format.Mode(c.Formatting.Mode),
		MaxLength:          c.Formatting.MaxLength,
		LongOutput:         format.LongOutput(c.Formatting.LongOutput),
		StripANSI:          c.Formatting.StripANSI,
		PreserveCodeBlocks: c.Formatting.PreserveCodeBlocks,
	}
}

// Addr is the host:port the control API listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bridge.Host, c.Bridge.Port)
}

// ArchiveAfter is the session idle limit, zero when pruning is off.
func (c *Config) ArchiveAfter() time.Duration {
	return time.Duration(c.Sessions.AutoArchiveAfter) * time.Second
}

// HandshakeSteps returns the first-run script: the configured steps, the
// built-in script when none are configured, or nothing when skipped.
func (a AgentConfig) HandshakeSteps() []process.Step {
	if a.SkipHandshake {
		return nil
	}
	if len(a.Handshake) == 0 {
		return process.DefaultHandshake()
	}
	steps := make([]process.Step, len(a.Handshake))
	for i, s := range a.Handshake {
		steps[i] = process.Step{Delay: s.Delay, Keys: keySequence(s.Keys)}
	}
	return steps
}

func keySequence(name string) string {
	switch strings.ToLower(name) {
	case "enter", "return":
		return process.KeyEnter
	case "up":
		return process.KeyUp
	default:
		return name
	}
}

// ProcessOptions converts the agent section. env is appended to the
// inherited environment of the child.
func (a AgentConfig) ProcessOptions(env ...string) []process.Option {
	return []process.Option{
		process.WithCommand(a.Command...),
		process.WithSize(uint16(a.Cols), uint16(a.Rows)),
		process.WithSettleDelay(a.SettleDelay),
		process.WithStopPolicy(a.StopAttempts, a.StopInterval),
		process.WithHandshake(a.HandshakeSteps()),
		process.WithEnv(env...),
	}
}
