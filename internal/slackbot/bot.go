// Package slackbot connects the bridge to Slack. It receives channel
// messages and button clicks over Socket Mode and posts agent output back
// with the slack-go/slack Web API client.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/steveyegge/agentbridge/internal/format"
	"github.com/steveyegge/agentbridge/internal/util"
)

// API is the part of *slack.Client the bot calls.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
}

// Channels reports which channels the bridge serves.
type Channels interface {
	IsRegistered(channelID string) bool
	ChannelIDs() []string
}

// Message is an accepted inbound message or button choice.
type Message struct {
	ChannelID string
	UserID    string
	Text      string
	// Choice is set when Text is the value of a clicked choice button.
	Choice bool
}

// Handler receives accepted inbound messages.
type Handler func(ctx context.Context, msg Message)

// Config holds the Slack credentials and intake filter.
type Config struct {
	BotToken       string // xoxb-... bot token
	AppToken       string // xapp-... app-level token for Socket Mode
	AllowedUserIDs []string
	Debug          bool
}

// Bot is the Slack side of the bridge.
type Bot struct {
	api        API
	socketMode *socketmode.Client
	formatter  *format.Formatter
	channels   Channels
	allowed    map[string]struct{}
	logger     *slog.Logger
	retry      util.RetryConfig

	handler   atomic.Pointer[Handler]
	connected atomic.Bool
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithAPI replaces the Web API client. Socket Mode is disabled, so Run
// returns immediately; used by tests.
func WithAPI(api API) Option {
	return func(b *Bot) {
		b.api = api
		b.socketMode = nil
	}
}

// WithRetry sets the retry policy for Slack Web API calls.
func WithRetry(cfg util.RetryConfig) Option {
	return func(b *Bot) {
		b.retry = cfg
	}
}

// New creates a Bot. Tokens are checked for presence and prefix only; the
// first Web API call reports whether they are actually valid.
func New(cfg Config, channels Channels, formatter *format.Formatter, opts ...Option) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("app token is required for Socket Mode")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp-")
	}
	if formatter == nil {
		formatter = format.New(format.DefaultOptions())
	}

	client := slack.New(
		cfg.BotToken,
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	b := &Bot{
		api:        client,
		socketMode: socketmode.New(client, socketmode.OptionDebug(cfg.Debug)),
		formatter:  formatter,
		channels:   channels,
		allowed:    make(map[string]struct{}, len(cfg.AllowedUserIDs)),
		logger:     slog.Default(),
		retry:      util.DefaultRetryConfig(),
	}
	for _, id := range cfg.AllowedUserIDs {
		b.allowed[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "slack")
	b.retry.IsRetryable = isRetryable
	return b, nil
}

// OnMessage registers the handler for accepted messages. Messages arriving
// before a handler is set are dropped.
func (b *Bot) OnMessage(h Handler) {
	b.handler.Store(&h)
}

// Connected reports whether the Socket Mode connection is up.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

// Run holds the Socket Mode connection open until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if b.socketMode == nil {
		<-ctx.Done()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.socketMode.Events:
				if !ok {
					return
				}
				b.handleEvent(ctx, evt)
			}
		}
	}()

	err := b.socketMode.RunContext(ctx)
	b.connected.Store(false)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Socket Mode")

	case socketmode.EventTypeConnected:
		b.connected.Store(true)
		b.logger.Info("connected to Socket Mode")

	case socketmode.EventTypeConnectionError, socketmode.EventTypeDisconnect:
		b.connected.Store(false)
		b.logger.Warn("Socket Mode connection lost", "type", evt.Type, "data", evt.Data)

	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.ack(evt)
		if ev.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			b.onMessageEvent(ctx, msg)
		}

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.ack(evt)
		b.onInteraction(ctx, callback)
	}
}

func (b *Bot) ack(evt socketmode.Event) {
	if evt.Request != nil {
		b.socketMode.Ack(*evt.Request)
	}
}

// onMessageEvent forwards a human channel message. Bot posts and message
// subtypes (edits, joins, deletions) are ignored.
func (b *Bot) onMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) {
	b.logger.Debug("message event", "channel", ev.Channel, "user", ev.User, "subtype", ev.SubType)
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	if !b.Accept(ev.User, ev.Channel) {
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	b.dispatch(ctx, Message{ChannelID: ev.Channel, UserID: ev.User, Text: ev.Text})
}

// onInteraction forwards the value of a clicked choice button as if the
// user had typed it.
func (b *Bot) onInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	if !b.Accept(cb.User.ID, cb.Channel.ID) {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil || !format.IsChoiceAction(action.ActionID) {
			continue
		}
		b.logger.Info("choice clicked", "channel", cb.Channel.ID, "user", cb.User.ID, "action", action.ActionID)
		b.dispatch(ctx, Message{ChannelID: cb.Channel.ID, UserID: cb.User.ID, Text: action.Value, Choice: true})
	}
}

func (b *Bot) dispatch(ctx context.Context, msg Message) {
	h := b.handler.Load()
	if h == nil {
		b.logger.Warn("no message handler registered, dropping message", "channel", msg.ChannelID)
		return
	}
	(*h)(ctx, msg)
}

// Accept reports whether input from user in channel should reach the agent:
// the user must be allowed (an empty allow list allows everyone) and the
// channel registered.
func (b *Bot) Accept(userID, channelID string) bool {
	if len(b.allowed) > 0 {
		if _, ok := b.allowed[userID]; !ok {
			b.logger.Debug("ignoring unauthorized user", "user", userID)
			return false
		}
	}
	if b.channels == nil || !b.channels.IsRegistered(channelID) {
		b.logger.Debug("ignoring unregistered channel", "channel", channelID)
		return false
	}
	return true
}

func isRetryable(err error) bool {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	return util.DefaultIsRetryable(err)
}
