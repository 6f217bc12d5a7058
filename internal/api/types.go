package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/steveyegge/agentbridge/internal/completion"
	"github.com/steveyegge/agentbridge/internal/eventbus"
)

// ============================================================================
// Common Response Types
// ============================================================================

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the generic {status, message} reply.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Reply statuses.
const (
	StatusOK              = "ok"
	StatusError           = "error"
	StatusAgentDown       = "claude_not_running"
	StatusNotInitialized  = "not_initialized"
	StatusNoTargetChannel = "no_target_channel"
	StatusDeliveryFailed  = "delivery_failed"
)

// ============================================================================
// Health and Status Types
// ============================================================================

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
	SlackConnected bool   `json:"slack_connected"`
}

// SessionInfo is a channel's activity record.
type SessionInfo struct {
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ChannelStatus describes one registered channel.
type ChannelStatus struct {
	Name      string       `json:"name"`
	Repo      string       `json:"repo"`
	QueueSize int          `json:"queue_size"`
	Session   *SessionInfo `json:"session"`
}

// Status is the detailed bridge status.
type Status struct {
	ClaudeRunning    bool                     `json:"claude_running"`
	SlackConnected   bool                     `json:"slack_connected"`
	CurrentChannel   string                   `json:"current_channel,omitempty"`
	CurrentDirectory string                   `json:"current_directory"`
	SessionTag       string                   `json:"session_tag,omitempty"`
	Version          string                   `json:"version"`
	Uptime           string                   `json:"uptime,omitempty"`
	Channels         map[string]ChannelStatus `json:"channels"`
}

// ============================================================================
// Hook Types
// ============================================================================

// HookEvent is the payload the hook producer posts to /hook. It is Claude
// Code's hook input plus the fields the producer adds.
type HookEvent struct {
	SessionID      string          `json:"session_id"`
	HookEventName  string          `json:"hook_event_name"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	Cwd            string          `json:"cwd,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse   json.RawMessage `json:"tool_response,omitempty"`
	StopHookActive bool            `json:"stop_hook_active,omitempty"`

	// Added by the producer.
	StopHookMessage string `json:"stop_hook_message,omitempty"`
	PtySession      string `json:"pty_session,omitempty"`
	TargetChannel   string `json:"target_channel,omitempty"`
}

// Signal converts the event for the completion router.
func (e HookEvent) Signal() completion.Signal {
	return completion.Signal{
		SessionID:      e.SessionID,
		Event:          e.HookEventName,
		InlineText:     e.StopHookMessage,
		TranscriptPath: e.TranscriptPath,
		TargetChannel:  e.TargetChannel,
	}
}

// HookResponse reports what happened to a hook event.
type HookResponse struct {
	Status    string `json:"status"`
	Result    string `json:"result,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// ============================================================================
// Admin Types
// ============================================================================

// TestResponse reports the connectivity test per channel ("sent" or
// "failed").
type TestResponse struct {
	Status  string            `json:"status"`
	Results map[string]string `json:"results"`
}

// ClearSessionResponse reports an administrative session clear.
type ClearSessionResponse struct {
	Status            string `json:"status"`
	ChannelID         string `json:"channel_id"`
	HadSession        bool   `json:"had_session"`
	DiscardedMessages int    `json:"discarded_messages"`
}

// ============================================================================
// Backend
// ============================================================================

// Backend is what the server exposes over HTTP.
type Backend interface {
	// Ready reports whether startup has finished and hooks can be routed.
	Ready() bool
	Health() HealthResponse
	Status() Status
	RouteCompletion(ctx context.Context, sig completion.Signal) (completion.Result, error)
	Restart(ctx context.Context) error
	BroadcastTest(ctx context.Context) (map[string]string, error)
	ClearSession(ctx context.Context, channelID string) (ClearSessionResponse, error)
	Subscribe() (<-chan eventbus.Event, func())
}
