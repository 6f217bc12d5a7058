package completion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type post struct {
	channel string
	text    string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (f *fakeDeliverer) PostFormatted(_ context.Context, channelID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.posts = append(f.posts, post{channelID, text})
	return "1700000000.000100", nil
}

type staticChannel string

func (s staticChannel) CurrentChannel() (string, bool) { return string(s), s != "" }

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestRoute_TranscriptToCurrentChannel(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel("C1"))

	path := writeTranscript(t,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read"}]}}`,
	)

	res, err := r.Route(context.Background(), Signal{Event: EventStop, TranscriptPath: path})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
	assert.Equal(t, []post{{"C1", "done"}}, d.posts)
}

func TestRoute_ExplicitTargetWins(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel("C1"))

	res, err := r.Route(context.Background(), Signal{Event: EventStop, InlineText: "hi", TargetChannel: "C2"})
	require.NoError(t, err)
	assert.Equal(t, "C2", res.ChannelID)
	assert.Equal(t, []post{{"C2", "hi"}}, d.posts)
}

func TestRoute_InlineTextPreferredOverTranscript(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel("C1"), WithTranscriptReader(func(string) (string, bool) {
		t.Fatal("transcript must not be read when inline text is present")
		return "", false
	}))

	_, err := r.Route(context.Background(), Signal{Event: EventStop, InlineText: "inline", TranscriptPath: "/x"})
	require.NoError(t, err)
	assert.Equal(t, []post{{"C1", "inline"}}, d.posts)
}

func TestRoute_Undeliverable(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel(""))

	_, err := r.Route(context.Background(), Signal{Event: EventStop, InlineText: "lost"})
	assert.True(t, errors.Is(err, ErrNoTarget))
	assert.Empty(t, d.posts)
}

func TestRoute_IgnoresOtherEvents(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel("C1"))

	for _, ev := range []string{"PreToolUse", "PostToolUse", "Notification", ""} {
		res, err := r.Route(context.Background(), Signal{Event: ev, InlineText: "x"})
		require.NoError(t, err)
		assert.Equal(t, StatusIgnored, res.Status)
	}
	assert.Empty(t, d.posts)
}

func TestRoute_EmptyText(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel("C1"))

	path := writeTranscript(t, `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`)
	res, err := r.Route(context.Background(), Signal{Event: EventStop, InlineText: "   ", TranscriptPath: path})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)

	res, err = r.Route(context.Background(), Signal{Event: EventStop, TranscriptPath: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Empty(t, d.posts)
}

func TestRoute_DeliveryFailure(t *testing.T) {
	d := &fakeDeliverer{err: errors.New("channel_not_found")}
	r := NewRouter(d, staticChannel("C1"))
	sig := Signal{Event: EventStop, SessionID: "s1", TranscriptPath: writeTranscript(t, passLine)}

	_, err := r.Route(context.Background(), sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")

	// A failed delivery is not remembered as seen.
	d.err = nil
	res, err := r.Route(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
}

const passLine = `{"type":"assistant","message":{"content":[{"type":"text","text":"All tests pass."}]}}`

func TestRoute_RepeatedTextFromNewTurnsIsDelivered(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
	}{
		{"inline only", Signal{Event: EventStop, InlineText: "All tests pass."}},
		{"inline with session", Signal{Event: EventStop, SessionID: "s1", InlineText: "All tests pass."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDeliverer{}
			r := NewRouter(d, staticChannel("C1"))
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				res, err := r.Route(ctx, tt.sig)
				require.NoError(t, err)
				assert.Equal(t, StatusDelivered, res.Status, "route %d", i)
			}
			assert.Len(t, d.posts, 2)
		})
	}
}

func TestRoute_SuppressesReplayedSignal(t *testing.T) {
	d := &fakeDeliverer{}
	r := NewRouter(d, staticChannel("C1"))
	ctx := context.Background()

	path := writeTranscript(t, passLine)
	sig := Signal{Event: EventStop, SessionID: "s1", TranscriptPath: path}

	res, err := r.Route(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)

	// The hook retrying the same post.
	res, err = r.Route(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)

	// Same turn addressed to another channel is its own delivery.
	res, err = r.Route(ctx, Signal{Event: EventStop, SessionID: "s1", TranscriptPath: path, TargetChannel: "C2"})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)

	// A later turn that says the same thing grows the transcript.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(passLine + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err = r.Route(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, res.Status)
	assert.Equal(t, []post{
		{"C1", "All tests pass."},
		{"C2", "All tests pass."},
		{"C1", "All tests pass."},
	}, d.posts)
}

func TestRoute_DedupDisabled(t *testing.T) {
	d := &fakeDeliverer{}
	fixed := func(string) (int64, bool) { return 1, true }
	r := NewRouter(d, staticChannel("C1"), WithDedupWindow(0), WithTranscriptOffset(fixed))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Route(ctx, Signal{Event: EventStop, SessionID: "s1", TranscriptPath: "/t.jsonl", InlineText: "again"})
		require.NoError(t, err)
	}
	assert.Len(t, d.posts, 3)
}
