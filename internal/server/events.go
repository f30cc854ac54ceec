package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/session"
)

// EventState carries the session after a change.
const EventState = "state"

// Event is what watchers of a session receive: reply fragments while a turn
// generates and the session view after every change.
type Event struct {
	Kind  string     `json:"kind"`
	Text  string     `json:"text,omitempty"`
	State *stateView `json:"state,omitempty"`
}

func (s *Server) publish(ctx context.Context, sessionID string, ev Event) {
	if err := s.events.Topic(ctx, sessionID).Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "publish session event", slogx.LoggerName("server"), slogx.Session(sessionID), slogx.Error(err))
	}
}

func (s *Server) publishState(ctx context.Context, st *session.State) {
	view := viewOf(st)
	s.publish(ctx, st.ID, Event{Kind: EventState, State: &view})
}

// watch streams the events of a session until the client goes away. The current
// state is sent first.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	st, ok := s.session(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	sse, ok := newSSEWriter(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	mu.Lock()
	sub, err := s.events.Topic(ctx, st.ID).Subscribe(ctx, func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if ev.Kind == EventFragment {
			sse.send(EventFragment, fragmentPayload{Text: ev.Text})
			return
		}
		if ev.State != nil {
			sse.send(EventState, ev.State)
		}
	})
	if err != nil {
		mu.Unlock()
		sse.send(EventError, errorPayload{Error: err.Error()})
		return
	}
	view := viewOf(st)
	sse.send(EventState, &view)
	mu.Unlock()

	<-ctx.Done()
	mu.Lock()
	closed = true
	mu.Unlock()
	sub.Unsubscribe()
}
