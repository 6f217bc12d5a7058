package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SSE event names written by the output stream.
const (
	SSEConnected = "connected"
)

// handleOutput streams bus events as Server-Sent Events until the client
// goes away or the bus closes. Slow readers miss events rather than stall
// the agent.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.backend.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, SSEConnected, []byte(`{}`))
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("encoding stream event", "error", err)
				continue
			}
			writeSSE(w, string(ev.Type), data)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
