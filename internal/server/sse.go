package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskmcp/tasksvr/internal/aids"
)

// handleStream serves GET /mcp: a Server-Sent Events stream carrying the
// job lifecycle events, list-changed notifications, and heartbeats. The
// stream ends on client disconnect, DELETE /mcp, the lifetime cap, or
// server shutdown.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.streams.TryAcquire(1) {
		http.Error(w, "too many open streams", http.StatusServiceUnavailable)
		return
	}
	defer s.streams.Release(1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.cfg.Hub.Register()
	defer s.cfg.Hub.CloseSession(sess.ID)
	s.cfg.Metrics.SSEOpened()
	defer s.cfg.Metrics.SSEClosed()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Connection", "keep-alive")
	h.Set(sessionHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	connected := Event{Name: "connected", Data: aids.MustMarshal(map[string]string{"sessionId": sess.ID})}
	if err := writeSSE(w, flusher, connected); err != nil {
		return
	}
	s.cfg.Logger.LogAttrs(r.Context(), slog.LevelDebug, "SSE stream opened", slog.String("sessionId", sess.ID))

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	lifetime := time.NewTimer(s.cfg.StreamTimeout)
	defer lifetime.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case <-lifetime.C:
			s.cfg.Logger.LogAttrs(r.Context(), slog.LevelDebug, "SSE stream reached its lifetime cap",
				slog.String("sessionId", sess.ID))
			return
		case <-heartbeat.C:
			ev := Event{Name: "heartbeat", Data: aids.MustMarshal(map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})}
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
		case ev := <-sess.Events():
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
		}
	}
}

// writeSSE emits one frame and flushes it. An unnamed event omits the event
// line, making it a default message frame for JSON-RPC payloads.
func writeSSE(w io.Writer, flusher http.Flusher, ev Event) error {
	if ev.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
