package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/steveyegge/agentbridge/internal/client"
	"github.com/steveyegge/agentbridge/internal/config"
	"github.com/steveyegge/agentbridge/internal/exitcode"
)

// loadConfig reads the config named by --config, $CLAUDE_SLACK_CONFIG or
// ./config.yaml.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrConfig, "loading config", err)
	}
	return cfg, nil
}

// newClient returns a bridge client for --url or the environment.
func newClient(opts ...client.Option) *client.Client {
	url := bridgeURL
	if url == "" {
		url = os.Getenv(client.EnvURL)
	}
	base := []client.Option{client.WithAPIKey(os.Getenv(client.EnvAPIKey))}
	return client.New(url, append(base, opts...)...)
}

// clientError maps a client failure to a coded error.
func clientError(c *client.Client, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case client.IsStatus(err, http.StatusUnauthorized), client.IsStatus(err, http.StatusForbidden):
		return exitcode.Unauthorized(err)
	case errors.Is(err, context.DeadlineExceeded):
		return exitcode.Timeout("calling " + c.BaseURL())
	case errors.As(err, &netErr):
		return exitcode.BridgeUnreachable(c.BaseURL(), err)
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		return err
	}
	return exitcode.BridgeUnreachable(c.BaseURL(), err)
}
