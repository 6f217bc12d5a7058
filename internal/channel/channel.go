// Package channel is the directory of chat channels the bridge serves and
// the per-channel session state that goes with them.
//
// The channel set is fixed when the Directory is built. Sessions are created
// lazily the first time a message arrives for a channel and track activity
// for status reporting and idle pruning. The directory also remembers which
// channel the agent was most recently addressed from; that "current channel"
// is mirrored to a hint store so the out-of-process hook producer can read
// it.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/agentbridge/internal/hint"
)

// ErrUnknownChannel is returned for channel IDs that are not registered.
var ErrUnknownChannel = errors.New("unknown channel")

// Channel is one registered chat channel.
type Channel struct {
	ID   string
	Repo string
	Name string
}

// Session is the per-channel conversation state.
type Session struct {
	ChannelID    string
	Repo         string
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int
}

// Directory maps channels to repositories and holds their sessions.
type Directory struct {
	channels map[string]Channel
	hints    hint.Store
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	current  string
}

// Option configures a Directory.
type Option func(*Directory)

// WithHintStore mirrors the current channel into s.
func WithHintStore(s hint.Store) Option {
	return func(d *Directory) {
		d.hints = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		d.now = now
	}
}

// NewDirectory builds a Directory over channels. Channel IDs must be
// unique and non-empty.
func NewDirectory(channels []Channel, opts ...Option) (*Directory, error) {
	d := &Directory{
		channels: make(map[string]Channel, len(channels)),
		sessions: make(map[string]*Session),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, ch := range channels {
		if ch.ID == "" {
			return nil, errors.New("channel with empty ID")
		}
		if _, dup := d.channels[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate channel ID %s", ch.ID)
		}
		d.channels[ch.ID] = ch
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "channel")
	return d, nil
}

// IsRegistered reports whether id is a known channel.
func (d *Directory) IsRegistered(id string) bool {
	_, ok := d.channels[id]
	return ok
}

// Lookup returns the channel registered under id.
func (d *Directory) Lookup(id string) (Channel, bool) {
	ch, ok := d.channels[id]
	return ch, ok
}

// RepoForChannel returns the repository bound to id.
func (d *Directory) RepoForChannel(id string) (string, bool) {
	ch, ok := d.channels[id]
	return ch.Repo, ok
}

// Channels returns the registered channels sorted by ID.
func (d *Directory) Channels() []Channel {
	out := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChannelIDs returns the registered channel IDs sorted.
func (d *Directory) ChannelIDs() []string {
	chans := d.Channels()
	ids := make([]string, len(chans))
	for i, ch := range chans {
		ids[i] = ch.ID
	}
	return ids
}

// GetOrCreateSession returns the session for id, creating it on first use.
// Unknown channels yield false and leave no trace. An existing session is
// returned unchanged.
func (d *Directory) GetOrCreateSession(id string) (Session, bool) {
	ch, ok := d.channels[id]
	if !ok {
		return Session{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		return *s, true
	}
	now := d.now()
	s := &Session{
		ChannelID:    id,
		Repo:         ch.Repo,
		CreatedAt:    now,
		LastActivity: now,
	}
	d.sessions[id] = s
	d.logger.Info("session created", "channel", id, "repo", ch.Repo)
	return *s, true
}

// Session returns a copy of the session for id, if one exists.
func (d *Directory) Session(id string) (Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns copies of all sessions sorted by channel ID.
func (d *Directory) Sessions() []Session {
	d.mu.RLock()
	out := make([]Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, *s)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// SessionCount returns the number of live sessions.
func (d *Directory) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// UpdateActivity counts one message against id's session and refreshes its
// activity time. No-op when the channel has no session.
func (d *Directory) UpdateActivity(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		s.MessageCount++
		s.LastActivity = d.now()
	}
}

// ClearSession drops id's session. It reports whether one existed.
func (d *Directory) ClearSession(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[id]; !ok {
		return false
	}
	delete(d.sessions, id)
	d.logger.Info("session cleared", "channel", id)
	return true
}

// PruneIdle drops sessions idle for longer than maxIdle as of now and
// returns the pruned channel IDs. A non-positive maxIdle prunes nothing.
func (d *Directory) PruneIdle(now time.Time, maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var pruned []string
	for id, s := range d.sessions {
		if now.Sub(s.LastActivity) > maxIdle {
			delete(d.sessions, id)
			pruned = append(pruned, id)
		}
	}
	sort.Strings(pruned)
	if len(pruned) > 0 {
		d.logger.Info("pruned idle sessions", "channels", pruned, "max_idle", maxIdle)
	}
	return pruned
}

// SetCurrentChannel records id as the channel the agent is working for.
// The in-memory value is always updated; the error reports a failure to
// persist it to the hint store.
func (d *Directory) SetCurrentChannel(ctx context.Context, id string) error {
	d.mu.Lock()
	d.current = id
	d.mu.Unlock()

	if d.hints == nil {
		return nil
	}
	if err := d.hints.Set(ctx, hint.KeyCurrentChannel, id); err != nil {
		d.logger.Warn("could not persist current channel", "channel", id, "error", err)
		return fmt.Errorf("persisting current channel: %w", err)
	}
	return nil
}

// CurrentChannel returns the channel most recently set as current.
func (d *Directory) CurrentChannel() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current, d.current != ""
}

// RestoreCurrentChannel loads the persisted current channel, if it still
// names a registered channel. Used at startup so completions arriving
// before the first message still route.
func (d *Directory) RestoreCurrentChannel(ctx context.Context) (string, bool) {
	if d.hints == nil {
		return "", false
	}
	id, err := d.hints.Get(ctx, hint.KeyCurrentChannel)
	if err != nil {
		if !errors.Is(err, hint.ErrNotFound) {
			d.logger.Warn("could not read current channel hint", "error", err)
		}
		return "", false
	}
	if !d.IsRegistered(id) {
		d.logger.Info("ignoring stale current channel hint", "channel", id)
		return "", false
	}
	d.mu.Lock()
	d.current = id
	d.mu.Unlock()
	return id, true
}
