// Package completion turns the agent's "turn finished" notifications into
// chat messages.
//
// The hook producer reports each Stop event with an optional target channel
// and either the reply text or the path of the session transcript. The
// Router picks the destination (explicit target first, then the channel the
// agent was last addressed from), resolves the text and hands it to a
// Deliverer.
package completion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/steveyegge/agentbridge/internal/telemetry"
	"github.com/steveyegge/agentbridge/internal/transcript"
)

// EventStop is the only event the Router acts on.
const EventStop = "Stop"

// DefaultDedupWindow is how long a replayed Stop signal is suppressed.
const DefaultDedupWindow = 30 * time.Second

// ErrNoTarget is returned when a completion has no destination channel.
var ErrNoTarget = errors.New("no target channel for completion")

// Signal is one completion notification.
type Signal struct {
	SessionID      string
	Event          string
	InlineText     string
	TranscriptPath string
	TargetChannel  string
}

// Status is the outcome of routing a Signal.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusIgnored   Status = "ignored"
	StatusEmpty     Status = "empty"
	StatusDuplicate Status = "duplicate"
)

// Result describes what Route did.
type Result struct {
	Status    Status
	ChannelID string
	Text      string
}

// Deliverer posts formatted text to a channel.
type Deliverer interface {
	PostFormatted(ctx context.Context, channelID, text string) (string, error)
}

// ChannelSource reports the channel the agent is currently working for.
type ChannelSource interface {
	CurrentChannel() (string, bool)
}

// Router routes completion signals to channels.
type Router struct {
	deliver  Deliverer
	channels ChannelSource
	logger   *slog.Logger
	readLast func(path string) (string, bool)
	offset   func(path string) (int64, bool)

	dedupWindow time.Duration
	seen        *gocache.Cache
}

// Option configures a Router.
type Option func(*Router)

// WithDedupWindow sets how long a replayed signal is suppressed. Zero
// disables suppression.
func WithDedupWindow(d time.Duration) Option {
	return func(r *Router) {
		r.dedupWindow = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTranscriptReader replaces transcript.LastAssistantText.
func WithTranscriptReader(fn func(path string) (string, bool)) Option {
	return func(r *Router) {
		r.readLast = fn
	}
}

// WithTranscriptOffset replaces transcript.Offset.
func WithTranscriptOffset(fn func(path string) (int64, bool)) Option {
	return func(r *Router) {
		r.offset = fn
	}
}

// NewRouter creates a Router delivering through d, falling back to the
// current channel reported by channels.
func NewRouter(d Deliverer, channels ChannelSource, opts ...Option) *Router {
	r := &Router{
		deliver:     d,
		channels:    channels,
		logger:      slog.Default(),
		readLast:    transcript.LastAssistantText,
		offset:      transcript.Offset,
		dedupWindow: DefaultDedupWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "completion")
	if r.dedupWindow > 0 {
		r.seen = gocache.New(r.dedupWindow, 2*r.dedupWindow)
	}
	return r
}

// Route delivers sig's text to its channel.
//
// Non-Stop events are ignored. A signal with no target and no current
// channel fails with ErrNoTarget. A signal whose text resolves to nothing
// is dropped with StatusEmpty. A signal replayed for the same session turn
// within the dedup window is dropped with StatusDuplicate; repeated text
// from different turns is delivered each time. Delivery failures are
// returned and not retried.
func (r *Router) Route(ctx context.Context, sig Signal) (Result, error) {
	if sig.Event != EventStop {
		r.logger.Debug("ignoring hook event", "event", sig.Event, "session", sig.SessionID)
		telemetry.RecordCompletionRouted(ctx, "", string(StatusIgnored), nil)
		return Result{Status: StatusIgnored}, nil
	}

	target := sig.TargetChannel
	if target == "" {
		target, _ = r.channels.CurrentChannel()
	}
	if target == "" {
		r.logger.Warn("completion dropped: no target channel", "session", sig.SessionID)
		telemetry.RecordCompletionRouted(ctx, "", "undeliverable", ErrNoTarget)
		return Result{}, ErrNoTarget
	}

	text := strings.TrimSpace(sig.InlineText)
	if text == "" && sig.TranscriptPath != "" {
		text, _ = r.readLast(sig.TranscriptPath)
	}
	if text == "" {
		r.logger.Info("completion dropped: no text", "channel", target, "transcript", sig.TranscriptPath)
		telemetry.RecordCompletionRouted(ctx, target, string(StatusEmpty), nil)
		return Result{Status: StatusEmpty, ChannelID: target}, nil
	}

	key, keyed := r.signalKey(target, sig, text)
	if keyed {
		if _, dup := r.seen.Get(key); dup {
			r.logger.Info("completion suppressed as duplicate", "channel", target)
			telemetry.RecordCompletionRouted(ctx, target, string(StatusDuplicate), nil)
			return Result{Status: StatusDuplicate, ChannelID: target, Text: text}, nil
		}
	}

	if _, err := r.deliver.PostFormatted(ctx, target, text); err != nil {
		r.logger.Error("completion delivery failed", "channel", target, "error", err)
		telemetry.RecordCompletionRouted(ctx, target, "failed", err)
		return Result{ChannelID: target, Text: text}, fmt.Errorf("delivering completion to %s: %w", target, err)
	}
	if keyed {
		r.seen.SetDefault(key, struct{}{})
	}

	r.logger.Info("completion delivered", "channel", target, "chars", len(text))
	telemetry.RecordCompletionRouted(ctx, target, string(StatusDelivered), nil)
	return Result{Status: StatusDelivered, ChannelID: target, Text: text}, nil
}

// signalKey identifies one Stop of one session turn. Only signals that carry
// a session and a transcript have an identity; the transcript size pins the
// turn, so a retried post matches while a later turn with the same words
// does not.
func (r *Router) signalKey(target string, sig Signal, text string) (string, bool) {
	if r.seen == nil || sig.SessionID == "" || sig.TranscriptPath == "" {
		return "", false
	}
	off, ok := r.offset(sig.TranscriptPath)
	if !ok {
		return "", false
	}
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s|%s|%s|%d|%s", target, sig.SessionID, sig.TranscriptPath, off, hex.EncodeToString(sum[:])), true
}
