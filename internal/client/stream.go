package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/eventbus"
)

// sseEvent represents a parsed SSE event.
type sseEvent struct {
	Event string
	Data  string
}

// Stream reads the bridge's /output stream and calls fn for each event.
// It reconnects with exponential backoff and returns when ctx is done.
func (c *Client) Stream(ctx context.Context, fn func(eventbus.Event)) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		connected, err := c.streamOnce(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = time.Second
		}
		slog.Debug("output stream dropped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// streamOnce runs one connection. connected reports whether the server
// accepted the stream.
func (c *Client) streamOnce(ctx context.Context, fn func(eventbus.Event)) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/output", nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		req.Header.Set(api.APIKeyHeader, c.apiKey)
	}

	// No timeout for SSE.
	hc := *c.httpClient
	hc.Timeout = 0

	resp, err := hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{Code: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var current sseEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			dispatchSSE(current, fn)
			current = sseEvent{}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			current.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			current.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		// Ignore comments (lines starting with :)
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("reading stream: %w", err)
	}
	return true, fmt.Errorf("stream closed")
}

func dispatchSSE(evt sseEvent, fn func(eventbus.Event)) {
	if evt.Event == "" || evt.Data == "" || evt.Event == api.SSEConnected {
		return
	}
	var ev eventbus.Event
	if err := json.Unmarshal([]byte(evt.Data), &ev); err != nil {
		slog.Debug("skipping malformed stream event", "event", evt.Event, "error", err)
		return
	}
	fn(ev)
}
