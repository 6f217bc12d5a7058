package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/agentbridge/internal/process"
)

// fakeAgent records what is typed into it and flags overlapping sends.
type fakeAgent struct {
	mu       sync.Mutex
	running  bool
	sends    []string
	starts   int
	stops    int
	sendErr  error
	startErr error

	inFlight   atomic.Int32
	overlapped atomic.Bool
	sendDelay  time.Duration
}

func (f *fakeAgent) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeAgent) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeAgent) Restart() error {
	_ = f.Stop()
	return f.Start()
}

func (f *fakeAgent) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeAgent) SendInput(text string) error {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, text)
	return nil
}

func (f *fakeAgent) ReadOutput(bool) string { return "" }

func (f *fakeAgent) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func newWithFake(t *testing.T, workDir string) (*Registry, *fakeAgent) {
	t.Helper()
	agent := &fakeAgent{}
	r := New(func(string, process.OutputFunc) Agent { return agent })
	r.Initialize(workDir, nil)
	return r, agent
}

func TestRegistry_NoAgent(t *testing.T) {
	r := New(func(string, process.OutputFunc) Agent { return &fakeAgent{} })

	assert.False(t, r.IsRunning())
	assert.NoError(t, r.Stop())
	assert.Empty(t, r.ReadOutput(true))
	assert.Empty(t, r.CurrentDirectory())
	assert.True(t, errors.Is(r.Start(), ErrNoController))
	assert.True(t, errors.Is(r.Send("hi"), ErrNoController))

	switched, err := r.ChangeDirectory("/workspace/a")
	assert.False(t, switched)
	assert.True(t, errors.Is(err, ErrNoController))
	assert.Empty(t, r.CurrentDirectory(), "failed switch must not record the directory")
}

func TestRegistry_StartAssignsSessionTag(t *testing.T) {
	r, agent := newWithFake(t, "/workspace/a")
	assert.Empty(t, r.SessionTag())

	require.NoError(t, r.Start())
	first := r.SessionTag()
	assert.NotEmpty(t, first)
	assert.True(t, r.IsRunning())

	require.NoError(t, r.Restart())
	assert.NotEqual(t, first, r.SessionTag())
	assert.Equal(t, 2, agent.starts)
	assert.Equal(t, 1, agent.stops)
}

func TestRegistry_StartFailureKeepsTag(t *testing.T) {
	r, agent := newWithFake(t, "/workspace/a")
	r.SetSessionTag("before")
	agent.startErr = errors.New("boom")

	require.Error(t, r.Start())
	assert.Equal(t, "before", r.SessionTag())
}

func TestRegistry_ChangeDirectory(t *testing.T) {
	r, agent := newWithFake(t, "/workspace/a")
	require.NoError(t, r.Start())

	switched, err := r.ChangeDirectory("/workspace/b")
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, "/workspace/b", r.CurrentDirectory())

	switched, err = r.ChangeDirectory("/workspace/b")
	require.NoError(t, err)
	assert.False(t, switched)

	switched, err = r.ChangeDirectory("")
	require.NoError(t, err)
	assert.False(t, switched)

	require.NoError(t, r.Send("fix the tests"))
	assert.Equal(t, []string{"cd /workspace/b", "fix the tests"}, agent.sent())
}

func TestRegistry_ChangeDirectoryFailure(t *testing.T) {
	r, agent := newWithFake(t, "/workspace/a")
	agent.sendErr = process.ErrNotRunning

	switched, err := r.ChangeDirectory("/workspace/b")
	assert.False(t, switched)
	assert.True(t, errors.Is(err, process.ErrNotRunning))
	assert.Equal(t, "/workspace/a", r.CurrentDirectory())
}

func TestRegistry_ChangeDirectoryTemplate(t *testing.T) {
	agent := &fakeAgent{}
	r := New(func(string, process.OutputFunc) Agent { return agent },
		WithChangeDirTemplate("/cd %s"))
	r.Initialize("/repo", nil)

	_, err := r.ChangeDirectory("/other repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"/cd '/other repo'"}, agent.sent())
}

func TestRegistry_StartResetsDirectory(t *testing.T) {
	r, _ := newWithFake(t, "/workspace/a")
	require.NoError(t, r.Start())
	_, err := r.ChangeDirectory("/workspace/b")
	require.NoError(t, err)

	require.NoError(t, r.Restart())
	assert.Equal(t, "/workspace/a", r.CurrentDirectory())
}

func TestRegistry_InitializeReplacesWithoutStopping(t *testing.T) {
	first := &fakeAgent{}
	second := &fakeAgent{}
	agents := []*fakeAgent{first, second}
	var n int
	r := New(func(string, process.OutputFunc) Agent {
		a := agents[n]
		n++
		return a
	})

	r.Initialize("/one", nil)
	require.NoError(t, r.Start())
	r.Initialize("/two", nil)

	assert.Zero(t, first.stops)
	assert.True(t, first.IsRunning())
	assert.False(t, r.IsRunning(), "registry now reports the new agent")
	assert.Equal(t, "/two", r.CurrentDirectory())
}

func TestRegistry_SendsNeverOverlap(t *testing.T) {
	r, agent := newWithFake(t, "/workspace/a")
	agent.sendDelay = 2 * time.Millisecond
	require.NoError(t, r.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = r.ChangeDirectory("/workspace/" + string(rune('b'+i)))
				return
			}
			_ = r.Send("message")
		}(i)
	}
	wg.Wait()

	assert.False(t, agent.overlapped.Load(), "two sends were in flight at once")
	assert.Len(t, agent.sent(), 8)
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/workspace/a", "/workspace/a"},
		{"", "''"},
		{"/my repo", "'/my repo'"},
		{"/it's", `'/it'\''s'`},
		{"/tmp/$HOME", "'/tmp/$HOME'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in), "input %q", tt.in)
	}
}
