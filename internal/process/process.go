// Package process drives a single interactive agent process attached to a
// pseudo-terminal.
//
// The Controller owns the child's lifecycle: spawn, scripted first-run
// handshake, keystroke delivery, output capture, lazy liveness detection and
// bounded-grace shutdown. Exit of the child is never pushed; it is observed
// the next time IsRunning (or an operation that calls it) reaps the child.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotRunning is returned when an operation needs a live process.
	ErrNotRunning = errors.New("agent not running")

	// ErrAlreadyRunning is returned by Start when the process is live.
	ErrAlreadyRunning = errors.New("agent already running")
)

const (
	// DefaultCols and DefaultRows are the terminal size given to the agent.
	DefaultCols = 80
	DefaultRows = 24

	// DefaultSettleDelay separates the text write from the terminator write.
	DefaultSettleDelay = 100 * time.Millisecond

	// DefaultStopAttempts and DefaultStopInterval bound the grace period
	// between the interrupt and the forced kill.
	DefaultStopAttempts = 10
	DefaultStopInterval = 100 * time.Millisecond

	// DefaultMaxBuffer caps the accumulated output kept for ReadOutput.
	DefaultMaxBuffer = 1 << 20

	// Terminator is the key event that submits a line to the agent.
	Terminator = "\r"
)

// DefaultCommand is the agent binary started when no command is configured.
var DefaultCommand = []string{"claude"}

// OutputFunc receives each decoded chunk read from the terminal.
// It runs on the reader goroutine and must not call back into the Controller.
type OutputFunc func(chunk string)

// Controller owns one PTY-attached child process.
type Controller struct {
	workDir      string
	command      []string
	env          []string
	cols, rows   uint16
	handshake    []Step
	settleDelay  time.Duration
	stopAttempts int
	stopInterval time.Duration
	maxBuffer    int
	onOutput     OutputFunc
	logger       *slog.Logger

	mu  sync.Mutex
	cur *run

	// sendMu keeps the text-then-terminator pair of one caller from
	// interleaving with another caller's keystrokes.
	sendMu sync.Mutex

	bufMu sync.Mutex
	buf   []byte
}

// Option configures a Controller.
type Option func(*Controller)

// WithCommand sets the argv used to start the agent.
func WithCommand(argv ...string) Option {
	return func(c *Controller) {
		if len(argv) > 0 {
			c.command = append([]string(nil), argv...)
		}
	}
}

// WithEnv appends KEY=VALUE entries to the child's environment.
func WithEnv(env ...string) Option {
	return func(c *Controller) {
		c.env = append(c.env, env...)
	}
}

// WithSize sets the terminal dimensions.
func WithSize(cols, rows uint16) Option {
	return func(c *Controller) {
		if cols > 0 && rows > 0 {
			c.cols, c.rows = cols, rows
		}
	}
}

// WithHandshake replaces the first-run keystroke script. An empty script
// disables the handshake.
func WithHandshake(steps []Step) Option {
	return func(c *Controller) {
		c.handshake = append([]Step(nil), steps...)
	}
}

// WithSettleDelay sets the pause between text and terminator.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) {
		c.settleDelay = d
	}
}

// WithStopPolicy sets how many times Stop polls for exit after the
// interrupt, and how long it sleeps between polls, before killing.
func WithStopPolicy(attempts int, interval time.Duration) Option {
	return func(c *Controller) {
		c.stopAttempts = attempts
		c.stopInterval = interval
	}
}

// WithMaxBuffer caps the output buffer; the oldest bytes are dropped.
func WithMaxBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxBuffer = n
		}
	}
}

// WithOutputFunc registers a live observer for terminal output.
func WithOutputFunc(fn OutputFunc) Option {
	return func(c *Controller) {
		c.onOutput = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Controller for an agent running in workDir.
// The process is not started until Start is called.
func New(workDir string, opts ...Option) *Controller {
	c := &Controller{
		workDir:      workDir,
		command:      DefaultCommand,
		cols:         DefaultCols,
		rows:         DefaultRows,
		handshake:    DefaultHandshake(),
		settleDelay:  DefaultSettleDelay,
		stopAttempts: DefaultStopAttempts,
		stopInterval: DefaultStopInterval,
		maxBuffer:    DefaultMaxBuffer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "process")
	return c
}

// WorkDir returns the directory the process is started in.
func (c *Controller) WorkDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workDir
}

// Start spawns the agent on a fresh pseudo-terminal, starts the output
// reader and kicks off the handshake. It returns without waiting for the
// handshake; SendInput and SendKeys hold user input back until the script
// is done. A failed spawn leaves the Controller stopped with no
// descriptors held.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.cur != nil && c.cur.running() {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	wedged := c.cur != nil && !c.cur.reaped
	c.mu.Unlock()

	if wedged {
		// The terminal failed but the child lingers; put it down first.
		_ = c.Stop()
	}

	c.mu.Lock()
	if c.cur != nil && c.cur.running() {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	stale := c.cur
	c.cur = nil

	cmd := exec.Command(c.command[0], c.command[1:]...) //nolint:gosec // agent argv comes from operator config
	cmd.Dir = c.workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, c.env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: c.cols, Rows: c.rows})
	if err != nil {
		c.mu.Unlock()
		if stale != nil {
			stale.release()
		}
		c.logger.Error("agent spawn failed", "command", c.command, "dir", c.workDir, "error", err)
		return fmt.Errorf("starting %s: %w", c.command[0], err)
	}

	r := newRun(cmd, ptmx)
	c.cur = r
	c.mu.Unlock()

	if stale != nil {
		stale.release()
	}

	go c.readLoop(r)
	if len(c.handshake) > 0 {
		go c.runHandshake(r, c.handshake)
	} else {
		close(r.handshakeDone)
	}

	c.logger.Info("agent started", "pid", r.pid, "dir", c.workDir, "cols", c.cols, "rows", c.rows)
	return nil
}

// IsRunning reaps the child without blocking and reports whether it is
// still alive. An exited child flips the controller to stopped.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.running()
}

// Pid returns the child's pid, or 0 when not running.
func (c *Controller) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || c.cur.reaped {
		return 0
	}
	return c.cur.pid
}

// SendInput writes text, waits the settle delay, then writes the line
// terminator as its own key event. It blocks while the handshake is still
// in progress. A write failure marks the process as not running.
func (c *Controller) SendInput(text string) error {
	c.awaitHandshake()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.write(text); err != nil {
		return err
	}
	time.Sleep(c.settleDelay)
	return c.write(Terminator)
}

// SendKeys writes raw keystrokes with no terminator, after the handshake.
func (c *Controller) SendKeys(keys string) error {
	c.awaitHandshake()
	return c.sendKeys(keys)
}

func (c *Controller) sendKeys(keys string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.write(keys)
}

// awaitHandshake blocks until the current run's handshake has finished or
// the run is halted. A child that exits on its own unblocks it at the next
// step, when the script's write fails. A run replaced by a restart while
// waiting is followed to its successor.
func (c *Controller) awaitHandshake() {
	var prev *run
	for {
		c.mu.Lock()
		r := c.cur
		c.mu.Unlock()
		if r == nil || r == prev {
			return
		}
		select {
		case <-r.handshakeDone:
			return
		case <-r.stop:
		}
		prev = r
	}
}

func (c *Controller) write(s string) error {
	c.mu.Lock()
	r := c.cur
	if r == nil || !r.running() {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.mu.Unlock()

	if _, err := r.ptmx.Write([]byte(s)); err != nil {
		r.broken.Store(true)
		c.logger.Warn("terminal write failed", "pid", r.pid, "error", err)
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	return nil
}

// ReadOutput returns the output captured since the last clear.
func (c *Controller) ReadOutput(clear bool) string {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	out := string(c.buf)
	if clear {
		c.buf = c.buf[:0]
	}
	return out
}

func (c *Controller) appendOutput(chunk string) {
	if chunk == "" {
		return
	}
	c.bufMu.Lock()
	c.buf = append(c.buf, chunk...)
	if over := len(c.buf) - c.maxBuffer; over > 0 {
		c.buf = append(c.buf[:0], c.buf[over:]...)
	}
	c.bufMu.Unlock()

	if c.onOutput != nil {
		c.onOutput(chunk)
	}
}

// Stop interrupts the agent, waits a bounded grace period, then kills and
// reaps it, and releases the terminal. Stopping a stopped controller is a
// no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.cur
	c.cur = nil
	if r == nil {
		c.mu.Unlock()
		return nil
	}

	if !r.reap(false) {
		c.logger.Info("stopping agent", "pid", r.pid)
		_ = unix.Kill(r.pid, unix.SIGINT)

		exited := false
		for i := 0; i < c.stopAttempts; i++ {
			time.Sleep(c.stopInterval)
			if r.reap(false) {
				exited = true
				break
			}
		}
		if !exited {
			c.logger.Warn("agent ignored interrupt, killing", "pid", r.pid)
			_ = unix.Kill(r.pid, unix.SIGKILL)
			r.reap(true)
		}
	}
	c.mu.Unlock()

	r.release()
	c.logger.Info("agent stopped", "pid", r.pid)
	return nil
}

// Restart stops the agent if needed and starts it again.
func (c *Controller) Restart() error {
	if err := c.Stop(); err != nil {
		return err
	}
	return c.Start()
}
