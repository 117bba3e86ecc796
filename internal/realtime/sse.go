package realtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/albion/platform/internal/platform/reqctx"
)

// heartbeatInterval is the SSE keepalive cadence.
const heartbeatInterval = 30 * time.Second

// SSEHandler streams events to the authenticated session. Events arrive in
// per-user emission order; heartbeats keep intermediaries from closing the
// stream.
func (h *Hub) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		tenantID, err := reqctx.TenantID(r.Context())
		if err != nil {
			http.Error(w, "tenant context missing", http.StatusUnauthorized)
			return
		}
		userID := reqctx.UserID(r.Context())

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := h.subscribe("sse", userID, tenantID)
		defer h.unsubscribe(sub)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case e, open := <-sub.send:
				if !open {
					return
				}
				frame, err := e.SSEFormat()
				if err != nil {
					slog.Warn("SSE frame encode failed", "event_id", e.ID, "error", err)
					continue
				}
				if _, err := w.Write(frame); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
