package process

import (
	"time"
)

// Step is one entry of the first-run keystroke script: wait Delay, then
// type Keys (no terminator is appended).
type Step struct {
	Delay time.Duration
	Keys  string
}

// Key sequences used by the default script.
const (
	KeyEnter = "\r"
	KeyUp    = "\x1b[A"
)

// DefaultHandshake answers Claude Code's first-run dialogs: accept the
// folder trust prompt, then move up to select the API key option and
// confirm it, then dismiss the final notice.
//
// The dialogs have no machine-readable signal, so this is timing only and
// tracks whatever the installed agent version renders. Override it through
// configuration when the agent's first-run flow changes.
func DefaultHandshake() []Step {
	return []Step{
		{Delay: 5 * time.Second, Keys: KeyEnter},
		{Delay: 2 * time.Second, Keys: KeyUp},
		{Delay: 300 * time.Millisecond, Keys: KeyEnter},
		{Delay: 3 * time.Second, Keys: KeyEnter},
	}
}

// runHandshake plays the script against r. It gives up as soon as r is
// stopped or replaced. Either way it releases input held by awaitHandshake.
func (c *Controller) runHandshake(r *run, steps []Step) {
	defer close(r.handshakeDone)

	for i, step := range steps {
		timer := time.NewTimer(step.Delay)
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		current := c.cur == r
		c.mu.Unlock()
		if !current {
			return
		}

		if err := c.sendKeys(step.Keys); err != nil {
			c.logger.Warn("handshake aborted", "step", i, "error", err)
			return
		}
		c.logger.Debug("handshake step sent", "step", i, "keys", step.Keys)
	}
	c.logger.Info("handshake complete", "pid", r.pid, "steps", len(steps))
}
