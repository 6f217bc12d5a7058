// Package hook implements the Claude Code side of the bridge: the Stop hook
// that forwards a finished turn to the bridge, and installation of that
// hook into Claude Code's settings.
package hook

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/completion"
	"github.com/steveyegge/agentbridge/internal/hint"
	"github.com/steveyegge/agentbridge/internal/lock"
	"github.com/steveyegge/agentbridge/internal/transcript"
	"github.com/steveyegge/agentbridge/internal/util"
)

// StateFile holds the hash of the last message forwarded.
const StateFile = ".slack_hook_state"

// PtySession is the session label sent with every event.
const PtySession = "pty"

// DefaultTimeout bounds the POST to the bridge.
const DefaultTimeout = 5 * time.Second

// Poster sends a hook event to the bridge. *client.Client satisfies it.
type Poster interface {
	PostHook(ctx context.Context, ev api.HookEvent) (api.HookResponse, error)
}

// Reply is what the hook prints for Claude Code.
type Reply struct {
	Continue bool `json:"continue"`
}

// StopHook forwards the last assistant message of a finished turn.
type StopHook struct {
	Poster  Poster
	Hints   hint.Store
	Dir     string // dedup state directory; defaults to hint.DefaultDir()
	Timeout time.Duration
	Stderr  io.Writer

	// ReadTranscript defaults to transcript.LastAssistantText.
	ReadTranscript func(path string) (string, bool)
}

// Outcome reports what Run did, for logging and tests.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeEmpty     Outcome = "empty"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Run reads a hook event from in and forwards it. It always writes
// {"continue": false} to out; failures are reported on Stderr and in the
// outcome, never as an error exit, so Claude Code is not disturbed.
func (h *StopHook) Run(ctx context.Context, in io.Reader, out io.Writer) Outcome {
	outcome := h.run(ctx, in)
	_ = json.NewEncoder(out).Encode(Reply{Continue: false})
	return outcome
}

func (h *StopHook) run(ctx context.Context, in io.Reader) Outcome {
	var ev api.HookEvent
	if err := json.NewDecoder(in).Decode(&ev); err != nil {
		h.warn("invalid hook input: %v", err)
		return OutcomeIgnored
	}
	if ev.HookEventName != completion.EventStop {
		return OutcomeIgnored
	}

	message := ""
	if ev.TranscriptPath != "" {
		read := h.ReadTranscript
		if read == nil {
			read = transcript.LastAssistantText
		}
		message, _ = read(ev.TranscriptPath)
	}
	if message == "" {
		message = strings.TrimSpace(ev.StopHookMessage)
	}
	if message == "" {
		return OutcomeEmpty
	}

	state := h.state()
	sum := messageHash(message)
	if dup, err := state.seen(sum); err != nil {
		h.warn("failed to read dedup state file: %v", err)
	} else if dup {
		return OutcomeDuplicate
	}

	ev.PtySession = PtySession
	ev.StopHookMessage = message
	ev.TargetChannel = h.currentChannel(ctx)

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	postCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := h.Poster.PostHook(postCtx, ev); err != nil {
		h.warn("failed to send hook to bridge: %v", err)
		return OutcomeFailed
	}

	if err := state.mark(sum); err != nil {
		h.warn("failed to write dedup state file: %v", err)
	}
	return OutcomeSent
}

func (h *StopHook) currentChannel(ctx context.Context) string {
	if h.Hints == nil {
		return ""
	}
	id, err := h.Hints.Get(ctx, hint.KeyCurrentChannel)
	if err != nil {
		if !errors.Is(err, hint.ErrNotFound) {
			h.warn("failed to read channel state: %v", err)
		}
		return ""
	}
	return id
}

func (h *StopHook) state() dedupState {
	dir := h.Dir
	if dir == "" {
		dir = hint.DefaultDir()
	}
	return dedupState{path: filepath.Join(dir, StateFile)}
}

func (h *StopHook) warn(format string, args ...any) {
	w := h.Stderr
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Warning: "+format+"\n", args...)
}

func messageHash(message string) string {
	sum := md5.Sum([]byte(message))
	return hex.EncodeToString(sum[:])
}

// dedupState remembers the hash of the last forwarded message.
type dedupState struct {
	path string
}

func (s dedupState) seen(sum string) (bool, error) {
	release, err := lock.Acquire(s.path + ".lock")
	if err != nil {
		return false, err
	}
	defer release()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(data)) == sum, nil
}

func (s dedupState) mark(sum string) error {
	release, err := lock.Acquire(s.path + ".lock")
	if err != nil {
		return err
	}
	defer release()
	return util.AtomicWriteFile(s.path, []byte(sum), 0o644)
}
