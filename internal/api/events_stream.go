package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/clonehoundhq/clonehound/internal/events"
)

// sseBuffer is the per-connection subscription depth. A browser tab that
// stops reading loses events rather than stalling the bus.
const sseBuffer = 256

// handleEvents streams bus events as server-sent events. An optional
// ?topics= parameter takes comma-separated patterns ("job:*,scan:completed")
// and narrows the stream; the event name on the wire is the bus topic.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "Event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	var filter events.Filter
	if raw := r.URL.Query().Get("topics"); raw != "" {
		var patterns []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) > 0 {
			filter = events.FilterTopics(patterns...)
		}
	}

	sub := s.bus.Subscribe(sseBuffer, filter)
	defer s.bus.Unsubscribe(sub)

	// Emit an initial comment so headers flush and the client sees the
	// stream as established before the first event arrives.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Topic, payload)
			flusher.Flush()
		}
	}
}
