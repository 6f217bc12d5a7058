// Package testutil holds test doubles shared by package tests.
package testutil

import (
	"sync"

	"github.com/steveyegge/agentbridge/internal/process"
)

// FakeAgent stands in for the agent process. It records every line typed
// into it and refuses input while stopped.
type FakeAgent struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
	sends    []string
}

// Start implements registry.Agent.
func (f *FakeAgent) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

// Stop implements registry.Agent.
func (f *FakeAgent) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

// Restart implements registry.Agent.
func (f *FakeAgent) Restart() error {
	_ = f.Stop()
	return f.Start()
}

// IsRunning implements registry.Agent.
func (f *FakeAgent) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// SendInput implements registry.Agent.
func (f *FakeAgent) SendInput(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return process.ErrNotRunning
	}
	f.sends = append(f.sends, text)
	return nil
}

// ReadOutput implements registry.Agent.
func (f *FakeAgent) ReadOutput(bool) string { return "" }

// Sent returns a copy of every line typed so far.
func (f *FakeAgent) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// Starts returns how many times Start succeeded.
func (f *FakeAgent) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Stops returns how many times Stop was called.
func (f *FakeAgent) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// SetStartErr makes later Start calls fail with err.
func (f *FakeAgent) SetStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// Kill marks the agent as exited without going through Stop.
func (f *FakeAgent) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}
