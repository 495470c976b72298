package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/taskweave/internal/streaming"
)

// handleSSEGlobal streams all events to the client via Server-Sent Events.
func (s *PanelServer) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, sseFilter(r))
}

// handleSSEWorkflow streams events for a specific workflow.
func (s *PanelServer) handleSSEWorkflow(w http.ResponseWriter, r *http.Request) {
	filter := sseFilter(r)
	filter.Workflow = r.PathValue("name")
	s.serveSSE(w, r, filter)
}

// handleSSEExecution streams events of one execution, replaying what the
// hub still retains so a late subscriber sees the whole trace.
func (s *PanelServer) handleSSEExecution(w http.ResponseWriter, r *http.Request) {
	filter := sseFilter(r)
	filter.ExecutionID = r.PathValue("id")
	filter.Replay = true
	s.serveSSE(w, r, filter)
}

// sseFilter reads ?workflow=, ?execution_id=, ?type= (repeatable or comma
// separated) and ?replay=.
func sseFilter(r *http.Request) streaming.EventFilter {
	q := r.URL.Query()
	filter := streaming.EventFilter{
		Workflow:    q.Get("workflow"),
		ExecutionID: q.Get("execution_id"),
		Replay:      queryBool(r, "replay"),
	}
	for _, v := range q["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, t)
			}
		}
	}
	return filter
}

// serveSSE is the common SSE implementation.
func (s *PanelServer) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
			flusher.Flush()
		}
	}
}
