// ABOUTME: HTTP control API for the bridge.
// ABOUTME: Receives hook completions and exposes health, status and admin actions.

package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/steveyegge/agentbridge/internal/channel"
	"github.com/steveyegge/agentbridge/internal/completion"
)

// APIKeyHeader carries the shared secret on protected endpoints.
const APIKeyHeader = "X-API-Key"

// ErrSlackUnavailable is returned by Backend.BroadcastTest when there is no
// Slack connection to post through.
var ErrSlackUnavailable = errors.New("slack not connected")

// maxHookBody bounds the /hook request body.
const maxHookBody = 1 << 20

// ============================================================================
// Server
// ============================================================================

// Server is the HTTP control API.
type Server struct {
	backend Backend
	addr    string
	apiKey  string
	logger  *slog.Logger
	server  *http.Server

	heartbeat time.Duration
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*Server)

// WithAPIKey protects the mutating endpoints with key. Empty leaves them
// open.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHeartbeat sets the keep-alive interval of the output stream.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// NewServer creates a server for backend listening on addr.
func NewServer(backend Backend, addr string, opts ...ServerOption) *Server {
	s := &Server{
		backend:   backend,
		addr:      addr,
		logger:    slog.Default(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /hook", s.requireKey(s.handleHook))
	mux.HandleFunc("POST /restart", s.requireKey(s.handleRestart))
	mux.HandleFunc("POST /test", s.requireKey(s.handleTest))
	mux.HandleFunc("DELETE /sessions/{channel}", s.requireKey(s.handleClearSession))
	mux.HandleFunc("GET /output", s.requireKey(s.handleOutput))

	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.apiKey == "" {
		s.logger.Warn("no API key configured, /hook is unprotected; set CLAUDE_SLACK_BRIDGE_API_KEY")
	} else {
		s.logger.Info("API key authentication enabled")
	}
	s.logger.Info("API server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down API server: %w", err)
		}
		return nil
	}
}

// requireKey rejects requests without the configured key: 401 when the
// header is missing, 403 when it does not match.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			got := r.Header.Get(APIKeyHeader)
			if got == "" {
				jsonError(w, http.StatusUnauthorized, "API key required. Set "+APIKeyHeader+" header.")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
				jsonError(w, http.StatusForbidden, "Invalid API key.")
				return
			}
		}
		next(w, r)
	}
}

// JSON response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message})
}

// ============================================================================
// Health and Status
// ============================================================================

// handleHealth reports agent liveness and session count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.backend.Health())
}

// handleStatus reports per-channel detail.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.backend.Status())
}

// ============================================================================
// Hook
// ============================================================================

// handleHook routes a completion event to its channel.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	var ev HookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxHookBody)).Decode(&ev); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid hook event: "+err.Error())
		return
	}
	if ev.HookEventName == "" {
		jsonError(w, http.StatusBadRequest, "hook_event_name is required")
		return
	}

	if !s.backend.Ready() {
		s.logger.Warn("hook received before bridge fully initialized")
		jsonResponse(w, http.StatusServiceUnavailable, HookResponse{Status: StatusNotInitialized})
		return
	}

	s.logger.Info("hook event received", "event", ev.HookEventName, "session", ev.SessionID, "target", ev.TargetChannel)

	res, err := s.backend.RouteCompletion(r.Context(), ev.Signal())
	switch {
	case errors.Is(err, completion.ErrNoTarget):
		jsonResponse(w, http.StatusBadRequest, HookResponse{Status: StatusNoTargetChannel})
	case err != nil:
		jsonResponse(w, http.StatusBadGateway, HookResponse{Status: StatusDeliveryFailed, ChannelID: res.ChannelID})
	default:
		jsonResponse(w, http.StatusOK, HookResponse{Status: StatusOK, Result: string(res.Status), ChannelID: res.ChannelID})
	}
}

// ============================================================================
// Admin
// ============================================================================

// handleRestart stops and starts the agent.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("restarting agent")
	if err := s.backend.Restart(r.Context()); err != nil {
		s.logger.Error("restart failed", "error", err)
		jsonResponse(w, http.StatusInternalServerError, StatusResponse{Status: StatusError, Message: "Failed to restart Claude Code"})
		return
	}
	jsonResponse(w, http.StatusOK, StatusResponse{Status: StatusOK, Message: "Claude Code restarted"})
}

// handleTest posts a test message to every channel.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	results, err := s.backend.BroadcastTest(r.Context())
	switch {
	case errors.Is(err, ErrSlackUnavailable):
		jsonResponse(w, http.StatusServiceUnavailable, StatusResponse{Status: StatusError, Message: "Slack not connected"})
	case err != nil:
		jsonResponse(w, http.StatusInternalServerError, StatusResponse{Status: StatusError, Message: err.Error()})
	default:
		jsonResponse(w, http.StatusOK, TestResponse{Status: StatusOK, Results: results})
	}
}

// handleClearSession drops a channel's session and pending messages.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("channel")
	res, err := s.backend.ClearSession(r.Context(), id)
	switch {
	case errors.Is(err, channel.ErrUnknownChannel):
		jsonError(w, http.StatusNotFound, "unknown channel "+id)
	case err != nil:
		jsonError(w, http.StatusInternalServerError, err.Error())
	default:
		jsonResponse(w, http.StatusOK, res)
	}
}
