// Package bridge wires Slack intake, the agent registry, the per-channel
// dispatcher and the completion router into one running service.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/slack-go/slack"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/channel"
	"github.com/steveyegge/agentbridge/internal/completion"
	"github.com/steveyegge/agentbridge/internal/eventbus"
	"github.com/steveyegge/agentbridge/internal/process"
	"github.com/steveyegge/agentbridge/internal/queue"
	"github.com/steveyegge/agentbridge/internal/registry"
	"github.com/steveyegge/agentbridge/internal/slackbot"
)

// Status lines posted while the agent is brought up on demand.
const (
	msgNotRunning    = ":warning: Claude Code is not running. Attempting to start..."
	msgStarted       = ":white_check_mark: Claude Code started!"
	msgStartFailed   = ":x: Failed to start Claude Code"
	msgTestBroadcast = ":white_check_mark: Test message from Claude Slack Bridge!"
)

// Defaults for Options left zero.
const (
	DefaultStartupWarmup = 2 * time.Second
	DefaultPruneInterval = time.Minute
	DefaultShutdownGrace = 10 * time.Second
)

// Slack is the part of *slackbot.Bot the bridge uses.
type Slack interface {
	PostMessage(ctx context.Context, channelID, text string, blocks ...slack.Block) (string, error)
	PostFormatted(ctx context.Context, channelID, content string) (string, error)
	JoinAll(ctx context.Context) map[string]bool
	Connected() bool
	OnMessage(h slackbot.Handler)
	Run(ctx context.Context) error
}

// Options tunes a Bridge. Zero values take the package defaults.
type Options struct {
	// DefaultRepo is where the agent starts.
	DefaultRepo string
	// StartupWarmup is how long to wait after an on-demand start before
	// forwarding the message that triggered it.
	StartupWarmup time.Duration
	// ArchiveAfter drops sessions idle for longer. Zero disables pruning.
	ArchiveAfter  time.Duration
	PruneInterval time.Duration

	IdleTimeout       time.Duration
	InterMessageDelay time.Duration
	ErrorBackoff      time.Duration
	DedupWindow       time.Duration
	// RestoreChannel seeds the current channel from the persisted hint
	// in Start.
	RestoreChannel bool

	Version string
	Logger  *slog.Logger
	Bus     *eventbus.Bus
}

// Bridge is the running service. It implements api.Backend.
type Bridge struct {
	registry   *registry.Registry
	directory  *channel.Directory
	slack      Slack
	dispatcher *queue.Dispatcher
	router     *completion.Router
	bus        *eventbus.Bus
	logger     *slog.Logger
	opts       Options

	startMu sync.Mutex
	ready   atomic.Bool
	started time.Time
}

var _ api.Backend = (*Bridge)(nil)

// New assembles a Bridge. slk may be nil, in which case nothing is posted
// and completions cannot be delivered.
func New(reg *registry.Registry, dir *channel.Directory, slk Slack, opts Options) *Bridge {
	if opts.StartupWarmup == 0 {
		opts.StartupWarmup = DefaultStartupWarmup
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}

	b := &Bridge{
		registry:  reg,
		directory: dir,
		slack:     slk,
		bus:       opts.Bus,
		logger:    opts.Logger.With("component", "bridge"),
		opts:      opts,
		started:   time.Now(),
	}

	b.dispatcher = queue.NewDispatcher(b.send).WithLogger(opts.Logger)
	if opts.IdleTimeout > 0 {
		b.dispatcher.WithIdleTimeout(opts.IdleTimeout)
	}
	if opts.InterMessageDelay > 0 {
		b.dispatcher.WithInterMessageDelay(opts.InterMessageDelay)
	}
	if opts.ErrorBackoff > 0 {
		b.dispatcher.WithErrorBackoff(opts.ErrorBackoff)
	}

	routerOpts := []completion.Option{completion.WithLogger(opts.Logger)}
	if opts.DedupWindow != 0 {
		routerOpts = append(routerOpts, completion.WithDedupWindow(opts.DedupWindow))
	}
	b.router = completion.NewRouter(deliverer{b}, dir, routerOpts...)

	if slk != nil {
		slk.OnMessage(b.onSlackMessage)
	}
	return b
}

// ============================================================================
// Intake
// ============================================================================

func (b *Bridge) onSlackMessage(ctx context.Context, msg slackbot.Message) {
	if err := b.HandleMessage(ctx, msg.ChannelID, msg.UserID, msg.Text); err != nil {
		b.logger.Error("handling message", "channel", msg.ChannelID, "user", msg.UserID, "error", err)
	}
}

// HandleMessage forwards a channel message to the agent. The agent is
// started first when it is down, and moved to the channel's repository
// when it is elsewhere.
func (b *Bridge) HandleMessage(ctx context.Context, channelID, userID, text string) error {
	repo, ok := b.directory.RepoForChannel(channelID)
	if !ok {
		return fmt.Errorf("message from %s: %w", channelID, channel.ErrUnknownChannel)
	}

	if err := b.ensureRunning(ctx, channelID); err != nil {
		return err
	}

	// A persist failure is logged by the directory; memory is still updated.
	_ = b.directory.SetCurrentChannel(ctx, channelID)

	if _, err := b.registry.ChangeDirectory(repo); err != nil {
		return err
	}

	if _, created := b.directory.GetOrCreateSession(channelID); created {
		b.logger.Info("created session", "channel", channelID, "repo", repo)
	}

	if err := b.dispatcher.Enqueue(channelID, text); err != nil {
		return fmt.Errorf("queueing message for %s: %w", channelID, err)
	}
	b.logger.Debug("queued message", "channel", channelID, "user", userID, "len", len(text))
	b.bus.Publish(eventbus.Event{Type: eventbus.EventEnqueued, ChannelID: channelID, Text: text})
	return nil
}

// ensureRunning starts the agent if it is down, reporting progress to
// channelID. Concurrent callers wait for a single start.
func (b *Bridge) ensureRunning(ctx context.Context, channelID string) error {
	if b.registry.IsRunning() {
		return nil
	}

	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.registry.IsRunning() {
		return nil
	}

	b.notify(ctx, channelID, msgNotRunning)
	if err := b.registry.Start(); err != nil {
		b.notify(ctx, channelID, msgStartFailed)
		return fmt.Errorf("starting agent: %w", err)
	}
	b.publishAgent(eventbus.EventAgentStarted)
	b.notify(ctx, channelID, msgStarted)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.opts.StartupWarmup):
	}
	return nil
}

func (b *Bridge) notify(ctx context.Context, channelID, text string) {
	if b.slack == nil {
		return
	}
	if _, err := b.slack.PostMessage(ctx, channelID, text); err != nil {
		b.logger.Warn("posting status", "channel", channelID, "error", err)
	}
}

// send is the dispatcher's delivery function.
func (b *Bridge) send(_ context.Context, channelID, text string) error {
	if !b.registry.IsRunning() {
		return process.ErrNotRunning
	}
	if err := b.registry.Send(text); err != nil {
		return err
	}
	b.directory.UpdateActivity(channelID)
	return nil
}

// onOutput receives agent output chunks.
func (b *Bridge) onOutput(chunk string) {
	clean := ansi.Strip(chunk)
	for _, line := range strings.Split(clean, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			b.logger.Debug("agent output", "line", line)
		}
	}
	b.bus.PublishOutput(clean)
}

func (b *Bridge) publishAgent(t eventbus.EventType) {
	b.bus.Publish(eventbus.Event{Type: t, Text: b.registry.SessionTag()})
}

// deliverer adapts the bridge's Slack connection for the router, failing
// cleanly when there is none.
type deliverer struct{ b *Bridge }

func (d deliverer) PostFormatted(ctx context.Context, channelID, text string) (string, error) {
	if d.b.slack == nil {
		return "", api.ErrSlackUnavailable
	}
	return d.b.slack.PostFormatted(ctx, channelID, text)
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start optionally restores the routing hint, starts the agent in the
// default repository and joins the configured channels. An agent that fails to
// start is logged; the next message retries.
func (b *Bridge) Start(ctx context.Context) {
	if b.opts.RestoreChannel {
		if id, ok := b.directory.RestoreCurrentChannel(ctx); ok {
			b.logger.Info("restored current channel", "channel", id)
		}
	}

	b.registry.Initialize(b.opts.DefaultRepo, b.onOutput)

	b.startMu.Lock()
	if err := b.registry.Start(); err != nil {
		b.logger.Error("starting agent", "dir", b.opts.DefaultRepo, "error", err)
	} else {
		b.logger.Info("agent started", "dir", b.opts.DefaultRepo, "session", b.registry.SessionTag())
		b.publishAgent(eventbus.EventAgentStarted)
	}
	b.startMu.Unlock()

	if b.slack != nil {
		joined := b.slack.JoinAll(ctx)
		n := 0
		for _, ok := range joined {
			if ok {
				n++
			}
		}
		b.logger.Info("joined channels", "joined", n, "total", len(joined))
	}

	b.ready.Store(true)
}

// Shutdown stops the dispatcher, then the agent, then closes the event
// bus.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.ready.Store(false)

	var errs []error
	if err := b.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if err := b.registry.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("agent: %w", err))
	} else {
		b.publishAgent(eventbus.EventAgentStopped)
	}
	b.bus.Close()
	return errors.Join(errs...)
}

// pruneLoop drops sessions that have been idle longer than ArchiveAfter.
func (b *Bridge) pruneLoop(ctx context.Context) error {
	if b.opts.ArchiveAfter <= 0 {
		return nil
	}
	ticker := time.NewTicker(b.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			b.prune(now)
		}
	}
}

func (b *Bridge) prune(now time.Time) []string {
	pruned := b.directory.PruneIdle(now, b.opts.ArchiveAfter)
	for _, id := range pruned {
		b.dispatcher.RemoveSession(id)
		b.logger.Info("archived idle session", "channel", id)
	}
	return pruned
}
