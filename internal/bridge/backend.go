package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/channel"
	"github.com/steveyegge/agentbridge/internal/completion"
	"github.com/steveyegge/agentbridge/internal/eventbus"
)

// Run starts the bridge, runs Slack, session pruning and every service
// until ctx is done or one of them fails, then shuts down. Services are
// typically the HTTP API server.
func (b *Bridge) Run(ctx context.Context, services ...func(context.Context) error) error {
	b.Start(ctx)

	// Slack outlives the other services so shutdown can still post.
	slackCtx, stopSlack := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSlack()
	slackDone := make(chan struct{})
	var slackErr error
	if b.slack != nil {
		go func() {
			defer close(slackDone)
			slackErr = b.slack.Run(slackCtx)
		}()
	} else {
		close(slackDone)
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-slackDone:
			if slackErr != nil && !errors.Is(slackErr, context.Canceled) {
				return fmt.Errorf("slack: %w", slackErr)
			}
			return nil
		}
	})
	p.Go(b.pruneLoop)
	for _, svc := range services {
		p.Go(svc)
	}
	runErr := p.Wait()

	b.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownGrace)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		b.logger.Error("shutdown", "error", err)
	}

	stopSlack()
	select {
	case <-slackDone:
	case <-shutdownCtx.Done():
		b.logger.Warn("slack did not stop in time")
	}
	return runErr
}

// ============================================================================
// api.Backend
// ============================================================================

// Ready reports whether startup has finished.
func (b *Bridge) Ready() bool {
	return b.ready.Load()
}

// Health reports agent liveness and the number of active sessions.
func (b *Bridge) Health() api.HealthResponse {
	status := api.StatusOK
	if !b.registry.IsRunning() {
		status = api.StatusAgentDown
	}
	return api.HealthResponse{
		Status:         status,
		Version:        b.opts.Version,
		ActiveSessions: b.directory.SessionCount(),
		SlackConnected: b.slack != nil && b.slack.Connected(),
	}
}

// Status reports the agent and every registered channel.
func (b *Bridge) Status() api.Status {
	current, _ := b.directory.CurrentChannel()
	st := api.Status{
		ClaudeRunning:    b.registry.IsRunning(),
		SlackConnected:   b.slack != nil && b.slack.Connected(),
		CurrentChannel:   current,
		CurrentDirectory: b.registry.CurrentDirectory(),
		SessionTag:       b.registry.SessionTag(),
		Version:          b.opts.Version,
		Uptime:           time.Since(b.started).Round(time.Second).String(),
		Channels:         make(map[string]api.ChannelStatus),
	}
	for _, ch := range b.directory.Channels() {
		cs := api.ChannelStatus{
			Name:      ch.Name,
			Repo:      ch.Repo,
			QueueSize: b.dispatcher.QueueSize(ch.ID),
		}
		if sess, ok := b.directory.Session(ch.ID); ok {
			cs.Session = &api.SessionInfo{
				MessageCount: sess.MessageCount,
				CreatedAt:    sess.CreatedAt,
				LastActivity: sess.LastActivity,
			}
		}
		st.Channels[ch.ID] = cs
	}
	return st
}

// RouteCompletion delivers a completion signal to its channel.
func (b *Bridge) RouteCompletion(ctx context.Context, sig completion.Signal) (completion.Result, error) {
	res, err := b.router.Route(ctx, sig)
	if err == nil && res.Status == completion.StatusDelivered {
		b.bus.Publish(eventbus.Event{Type: eventbus.EventCompletion, ChannelID: res.ChannelID, Text: res.Text})
	}
	return res, err
}

// Restart stops and starts the agent.
func (b *Bridge) Restart(context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if err := b.registry.Restart(); err != nil {
		return err
	}
	b.publishAgent(eventbus.EventAgentStarted)
	return nil
}

// BroadcastTest posts a test message to every channel concurrently and
// reports "sent" or "failed" for each.
func (b *Bridge) BroadcastTest(ctx context.Context) (map[string]string, error) {
	if b.slack == nil {
		return nil, api.ErrSlackUnavailable
	}
	ids := b.directory.ChannelIDs()
	outcomes := iter.Map(ids, func(id *string) string {
		if _, err := b.slack.PostMessage(ctx, *id, msgTestBroadcast); err != nil {
			b.logger.Warn("test message failed", "channel", *id, "error", err)
			return "failed"
		}
		return "sent"
	})

	results := make(map[string]string, len(ids))
	for i, id := range ids {
		results[id] = outcomes[i]
	}
	return results, nil
}

// ClearSession drops a channel's session and discards its pending
// messages.
func (b *Bridge) ClearSession(_ context.Context, channelID string) (api.ClearSessionResponse, error) {
	if !b.directory.IsRegistered(channelID) {
		return api.ClearSessionResponse{}, fmt.Errorf("clear %s: %w", channelID, channel.ErrUnknownChannel)
	}
	had := b.directory.ClearSession(channelID)
	discarded := b.dispatcher.RemoveSession(channelID)
	b.logger.Info("cleared session", "channel", channelID, "had_session", had, "discarded", discarded)
	return api.ClearSessionResponse{
		Status:            api.StatusOK,
		ChannelID:         channelID,
		HadSession:        had,
		DiscardedMessages: discarded,
	}, nil
}

// Subscribe follows bridge events.
func (b *Bridge) Subscribe() (<-chan eventbus.Event, func()) {
	return b.bus.Subscribe()
}

// QueueSize returns the number of messages waiting for channelID.
func (b *Bridge) QueueSize(channelID string) int {
	return b.dispatcher.QueueSize(channelID)
}
