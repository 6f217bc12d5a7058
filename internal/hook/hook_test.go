package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tailscale/hujson"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/hint"
	"github.com/steveyegge/agentbridge/internal/testutil"
)

type fakePoster struct {
	events []api.HookEvent
	err    error
}

func (f *fakePoster) PostHook(_ context.Context, ev api.HookEvent) (api.HookResponse, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return api.HookResponse{Status: api.StatusDeliveryFailed}, f.err
	}
	return api.HookResponse{Status: api.StatusOK}, nil
}

func newStopHook(t *testing.T, poster Poster) (*StopHook, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	var stderr bytes.Buffer
	return &StopHook{
		Poster: poster,
		Hints:  hint.NewFileStore(dir),
		Dir:    dir,
		Stderr: &stderr,
	}, &stderr
}

// transcriptWith writes a transcript whose last text turn is text,
// followed by a tool-only turn.
func transcriptWith(t *testing.T, text string) string {
	t.Helper()
	return testutil.WriteTranscript(t, testutil.AssistantText(text), testutil.AssistantToolUse("Bash"))
}

func stopInput(path string) string {
	return `{"session_id":"s1","hook_event_name":"Stop","transcript_path":"` + path + `"}`
}

func assertReply(t *testing.T, out *bytes.Buffer) {
	t.Helper()
	var r Reply
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.False(t, r.Continue)
}

func TestStopHook_Forwards(t *testing.T) {
	poster := &fakePoster{}
	h, _ := newStopHook(t, poster)
	require.NoError(t, h.Hints.Set(context.Background(), hint.KeyCurrentChannel, "C1"))

	var out bytes.Buffer
	got := h.Run(context.Background(), strings.NewReader(stopInput(transcriptWith(t, "done"))), &out)

	assert.Equal(t, OutcomeSent, got)
	assertReply(t, &out)
	require.Len(t, poster.events, 1)
	ev := poster.events[0]
	assert.Equal(t, "done", ev.StopHookMessage)
	assert.Equal(t, "C1", ev.TargetChannel)
	assert.Equal(t, PtySession, ev.PtySession)
	assert.Equal(t, "s1", ev.SessionID)

	state, err := os.ReadFile(filepath.Join(h.Dir, StateFile))
	require.NoError(t, err)
	assert.Equal(t, messageHash("done"), string(state))
}

func TestStopHook_SkipsDuplicate(t *testing.T) {
	poster := &fakePoster{}
	h, _ := newStopHook(t, poster)
	path := transcriptWith(t, "same answer")

	var out bytes.Buffer
	assert.Equal(t, OutcomeSent, h.Run(context.Background(), strings.NewReader(stopInput(path)), &out))
	out.Reset()
	assert.Equal(t, OutcomeDuplicate, h.Run(context.Background(), strings.NewReader(stopInput(path)), &out))
	assertReply(t, &out)
	assert.Len(t, poster.events, 1)
}

func TestStopHook_FailureDoesNotMark(t *testing.T) {
	poster := &fakePoster{err: errors.New("connection refused")}
	h, stderr := newStopHook(t, poster)
	path := transcriptWith(t, "retry me")

	var out bytes.Buffer
	assert.Equal(t, OutcomeFailed, h.Run(context.Background(), strings.NewReader(stopInput(path)), &out))
	assertReply(t, &out)
	assert.Contains(t, stderr.String(), "connection refused")
	assert.NoFileExists(t, filepath.Join(h.Dir, StateFile))

	poster.err = nil
	out.Reset()
	assert.Equal(t, OutcomeSent, h.Run(context.Background(), strings.NewReader(stopInput(path)), &out))
	assert.Len(t, poster.events, 2)
}

func TestStopHook_IgnoredInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Outcome
	}{
		{"not json", `{oops`, OutcomeIgnored},
		{"other event", `{"session_id":"s","hook_event_name":"PostToolUse"}`, OutcomeIgnored},
		{"no transcript", `{"session_id":"s","hook_event_name":"Stop"}`, OutcomeEmpty},
		{"missing transcript", stopInput("/nonexistent/t.jsonl"), OutcomeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := &fakePoster{}
			h, _ := newStopHook(t, poster)
			var out bytes.Buffer
			assert.Equal(t, tt.want, h.Run(context.Background(), strings.NewReader(tt.input), &out))
			assertReply(t, &out)
			assert.Empty(t, poster.events)
		})
	}
}

func TestStopHook_NoHintSendsEmptyTarget(t *testing.T) {
	poster := &fakePoster{}
	h, _ := newStopHook(t, poster)

	var out bytes.Buffer
	h.Run(context.Background(), strings.NewReader(stopInput(transcriptWith(t, "x"))), &out)
	require.Len(t, poster.events, 1)
	assert.Empty(t, poster.events[0].TargetChannel)
}

func readSettings(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	std, err := hujson.Standardize(data)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(std, &m))
	return m
}

func TestInstall_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".claude", "settings.json")

	changed, err := Install(path, "")
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err := Installed(path, DefaultCommand)
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err = Install(path, "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestInstall_PreservesCommentsAndOtherHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	existing := `{
  // user preference
  "model": "opus",
  "hooks": {
    "Stop": [
      {"hooks": [{"type": "command", "command": "notify-send done", "timeout": 10}]}
    ]
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o600))

	changed, err := Install(path, "agentbridge hook stop")
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "// user preference")

	m := readSettings(t, path)
	assert.Equal(t, "opus", m["model"])
	stop := m["hooks"].(map[string]any)["Stop"].([]any)
	require.Len(t, stop, 2)
	first := stop[0].(map[string]any)["hooks"].([]any)[0].(map[string]any)
	assert.Equal(t, "notify-send done", first["command"])
	assert.Equal(t, float64(10), first["timeout"])

	ok, err := Installed(path, "agentbridge hook stop")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInstall_AddsStopToExistingHooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hooks": {"PostToolUse": []}}`), 0o600))

	changed, err := Install(path, "")
	require.NoError(t, err)
	assert.True(t, changed)

	hooks := readSettings(t, path)["hooks"].(map[string]any)
	assert.Contains(t, hooks, "PostToolUse")
	assert.Contains(t, hooks, "Stop")
}

func TestInstall_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hooks": [`), 0o600))

	_, err := Install(path, "")
	assert.Error(t, err)
}
