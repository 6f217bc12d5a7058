package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/agentbridge/internal/util"
)

// Encodings accepted by Encode and WriteExample.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Example returns a starting configuration with placeholder credentials and
// a single channel.
func Example() *Config {
	cfg := Default()
	cfg.Slack.BotToken = BotTokenPrefix + "your-bot-token"
	cfg.Slack.AppToken = AppTokenPrefix + "your-app-token"
	cfg.Sessions.Channels = map[string]ChannelConfig{
		"C0123456789": {Repo: "/workspace/my-project", Name: "my-project"},
	}
	return cfg
}

// Encode renders c in the given encoding.
func Encode(c *Config, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(encoding) {
	case "", FormatYAML, "yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		_ = enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q (want %s or %s)", encoding, FormatYAML, FormatTOML)
	}
	return buf.Bytes(), nil
}

// WriteExample writes Example to path. It refuses to replace an existing
// file unless force is set.
func WriteExample(path, encoding string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if encoding == "" && isTOML(path) {
		encoding = FormatTOML
	}
	data, err := Encode(Example(), encoding)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(filepath.Clean(path), data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Redacted returns a copy of c with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Slack.BotToken = redact(c.Slack.BotToken)
	out.Slack.AppToken = redact(c.Slack.AppToken)
	out.Bridge.APIKey = redact(c.Bridge.APIKey)
	out.Slack.AllowedUserIDs = append([]string(nil), c.Slack.AllowedUserIDs...)
	out.Agent.Command = append([]string(nil), c.Agent.Command...)
	out.Agent.Handshake = append([]HandshakeStep(nil), c.Agent.Handshake...)
	out.Sessions.Channels = make(map[string]ChannelConfig, len(c.Sessions.Channels))
	for id, ch := range c.Sessions.Channels {
		out.Sessions.Channels[id] = ch
	}
	return &out
}

// redact keeps a token's prefix so its kind stays recognisable.
func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if i := strings.Index(secret, "-"); i > 0 && i < 6 {
		return secret[:i+1] + "****"
	}
	return "****"
}
