package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/casualjim/garden/pkg/slogx"
	json "github.com/goccy/go-json"
)

// SSE event names.
const (
	EventFragment = "fragment"
	EventDone     = "done"
	EventError    = "error"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode sse payload", slogx.LoggerName("server"), slogx.Error(err))
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	s.flusher.Flush()
}

// Fragment makes the writer a turn.Presenter.
func (s *sseWriter) Fragment(text string) {
	s.send(EventFragment, fragmentPayload{Text: text})
}

type fragmentPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", slogx.LoggerName("server"), slogx.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorPayload{Error: err.Error()})
}
