// Package registry holds the one agent process the bridge drives.
//
// The Registry is constructed once at startup and injected into every
// component that needs the agent. It owns zero or one Agent, the directory
// the agent was last told to use, and a diagnostic session tag. Components
// never keep their own Agent reference; they call through the Registry so a
// replaced agent is seen everywhere at once.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/steveyegge/agentbridge/internal/process"
	"github.com/steveyegge/agentbridge/internal/telemetry"
)

// ErrNoController is returned when no agent has been initialized.
var ErrNoController = errors.New("registry: no agent initialized")

// DefaultChangeDirTemplate is typed into the agent to move it to a channel's
// repository. %s is replaced with the shell-quoted path.
const DefaultChangeDirTemplate = "cd %s"

// Agent is the process surface the registry delegates to.
// *process.Controller satisfies it.
type Agent interface {
	Start() error
	Stop() error
	Restart() error
	IsRunning() bool
	SendInput(text string) error
	ReadOutput(clear bool) string
}

// Factory builds an Agent rooted at workDir.
type Factory func(workDir string, onOutput process.OutputFunc) Agent

// ProcessFactory returns a Factory producing process.Controllers with opts.
func ProcessFactory(opts ...process.Option) Factory {
	return func(workDir string, onOutput process.OutputFunc) Agent {
		all := append([]process.Option{process.WithOutputFunc(onOutput)}, opts...)
		return process.New(workDir, all...)
	}
}

// Registry is the single owner of the shared agent.
type Registry struct {
	newAgent   Factory
	cdTemplate string
	logger     *slog.Logger

	mu         sync.RWMutex
	agent      Agent
	homeDir    string // directory a freshly started agent is in
	currentDir string
	sessionTag string

	// sendMu serializes everything typed into the agent so that no two
	// callers ever have input in flight at once.
	sendMu sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithChangeDirTemplate sets the directory-change command template.
func WithChangeDirTemplate(tmpl string) Option {
	return func(r *Registry) {
		if tmpl != "" {
			r.cdTemplate = tmpl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty Registry that builds agents with factory.
func New(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		newAgent:   factory,
		cdTemplate: DefaultChangeDirTemplate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Initialize builds a new agent for workDir and makes it current. An agent
// already held is replaced, not stopped; stop it first if it is running.
func (r *Registry) Initialize(workDir string, onOutput process.OutputFunc) {
	a := r.newAgent(workDir, onOutput)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agent != nil {
		r.logger.Warn("replacing agent without stopping it")
	}
	r.agent = a
	r.homeDir = workDir
	r.currentDir = workDir
}

func (r *Registry) current() Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agent
}

// Start starts the agent and assigns a fresh session tag. A new process
// begins in the directory it was initialized with.
func (r *Registry) Start() error {
	a := r.current()
	if a == nil {
		return ErrNoController
	}
	err := a.Start()
	tag := ""
	if err == nil {
		tag = uuid.NewString()
		r.mu.Lock()
		r.sessionTag = tag
		r.currentDir = r.homeDir
		r.mu.Unlock()
	}
	telemetry.RecordAgentStart(context.Background(), tag, err)
	return err
}

// Stop stops the agent. Stopping with no agent held is a no-op.
func (r *Registry) Stop() error {
	a := r.current()
	if a == nil {
		return nil
	}
	err := a.Stop()
	telemetry.RecordAgentStop(context.Background(), r.SessionTag(), err)
	return err
}

// Restart stops and starts the agent.
func (r *Registry) Restart() error {
	if err := r.Stop(); err != nil {
		return err
	}
	return r.Start()
}

// IsRunning reports whether the agent is alive. False with no agent held.
func (r *Registry) IsRunning() bool {
	a := r.current()
	return a != nil && a.IsRunning()
}

// Send types text into the agent and submits it.
func (r *Registry) Send(text string) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.sendLocked(text)
}

func (r *Registry) sendLocked(text string) error {
	a := r.current()
	if a == nil {
		return ErrNoController
	}
	err := a.SendInput(text)
	telemetry.RecordPromptSend(context.Background(), r.SessionTag(), len(text), err)
	return err
}

// ReadOutput returns the agent's captured output.
func (r *Registry) ReadOutput(clear bool) string {
	a := r.current()
	if a == nil {
		return ""
	}
	return a.ReadOutput(clear)
}

// CurrentDirectory returns the directory the agent was last moved to.
func (r *Registry) CurrentDirectory() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentDir
}

// SetCurrentDirectory records dir without telling the agent.
func (r *Registry) SetCurrentDirectory(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentDir = dir
}

// SessionTag returns the diagnostic tag of the current agent session.
func (r *Registry) SessionTag() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionTag
}

// SetSessionTag replaces the diagnostic tag.
func (r *Registry) SetSessionTag(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionTag = tag
}

// ChangeDirectory moves the agent to dir unless it is already there. It
// reports whether a command was typed. The recorded directory only changes
// when the command was delivered.
func (r *Registry) ChangeDirectory(dir string) (bool, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	from := r.CurrentDirectory()
	if dir == "" || dir == from {
		return false, nil
	}

	cmd := fmt.Sprintf(r.cdTemplate, shellQuote(dir))
	if err := r.sendLocked(cmd); err != nil {
		return false, fmt.Errorf("changing directory to %s: %w", dir, err)
	}
	r.SetCurrentDirectory(dir)
	r.logger.Info("switched agent directory", "from", from, "to", dir)
	return true, nil
}

// shellQuote wraps a value in single quotes when it holds characters the
// shell would interpret.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
