// Package server is the HTTP host. Every request is one controller execution; replies
// stream to the client as server-sent events.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/casualjim/garden/internal/broker"
	"github.com/casualjim/garden/internal/metrics"
	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/registry"
	"github.com/casualjim/garden/session"
	"github.com/casualjim/garden/turn"
	"github.com/fogfish/opts"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
)

// UserHeader carries the identity established by the login layer in front of garden.
const UserHeader = "X-Garden-User"

const maxBodyBytes = 32 << 20

var errStreamingUnsupported = errors.New("streaming unsupported")

// Controller is the turn controller as the server drives it.
type Controller interface {
	Start(ctx context.Context, identity turn.Identity) (*session.State, error)
	State(ctx context.Context, id string) (*session.State, error)
	Execute(ctx context.Context, id string, action turn.Action, p turn.Presenter) (*session.State, error)
	Drive(ctx context.Context, id string, action turn.Action, p turn.Presenter) (*session.State, error)
}

// Models lists the selectable models.
type Models interface {
	Descriptors() []registry.ModelDescriptor
}

type Server struct {
	ctrl   Controller
	models Models
	events broker.Broker[Event]
}

// WithEvents sets the broker session events are published on. Without it events stay
// within the process.
var WithEvents = opts.ForName[Server, broker.Broker[Event]]("events")

// New returns the HTTP handler.
func New(ctrl Controller, models Models, options ...opts.Option[Server]) (http.Handler, error) {
	s := &Server{ctrl: ctrl, models: models}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if s.events == nil {
		s.events = broker.Local[Event]()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/models", s.listModels)
		api.Post("/sessions", s.createSession)
		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", s.getSession)
			sr.Get("/events", s.watch)
			sr.Put("/model", s.selectModel)
			sr.Put("/settings", s.updateSettings)
			sr.Post("/messages", s.postMessage)
			sr.Delete("/history", s.clearHistory)
			sr.Post("/reset", s.reset)
		})
	})
	return r, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		slog.DebugContext(r.Context(), "request",
			slogx.LoggerName("server"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func identity(r *http.Request) turn.User {
	return turn.User(r.Header.Get(UserHeader))
}

type stateView struct {
	ID           string                `json:"id"`
	User         string                `json:"user,omitempty"`
	Model        string                `json:"model"`
	Temperature  float64               `json:"temperature"`
	Streaming    bool                  `json:"streaming"`
	Personality  string                `json:"personality,omitempty"`
	SystemPrompt string                `json:"system_prompt,omitempty"`
	Phase        session.Phase         `json:"phase"`
	Conversation messages.Conversation `json:"conversation"`
	PendingImage bool                  `json:"pending_image"`
	PendingAudio bool                  `json:"pending_audio"`
	UpdatedAt    strfmt.DateTime       `json:"updated_at"`
}

func viewOf(st *session.State) stateView {
	return stateView{
		ID:           st.ID,
		User:         st.User,
		Model:        st.ModelKey,
		Temperature:  st.Temperature,
		Streaming:    st.Streaming,
		Personality:  st.Personality,
		SystemPrompt: st.SystemPrompt,
		Phase:        st.Phase,
		Conversation: st.Conversation,
		PendingImage: st.PendingImage != nil,
		PendingAudio: st.PendingAudio != nil,
		UpdatedAt:    st.UpdatedAt,
	}
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.models.Descriptors())
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Start(r.Context(), identity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(st))
}

// session loads the session named in the path and checks it belongs to the caller.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.State, bool) {
	st, err := s.ctrl.State(r.Context(), chi.URLParam(r, "id"))
	if err == nil && st.User != "" && st.User != string(identity(r)) {
		err = session.ErrNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return st, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewOf(st))
}

type modelRequest struct {
	Key string `json:"key"`
}

func (s *Server) selectModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decode(w, r, &req) {
		return
	}
	s.execute(w, r, turn.SelectModel{Key: req.Key})
}

type settingsRequest struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	Streaming    *bool    `json:"streaming,omitempty"`
	Personality  *string  `json:"personality,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	var actions []turn.Action
	if req.Personality != nil {
		actions = append(actions, turn.SetPersonality{Name: *req.Personality, Instructions: req.Instructions})
	}
	if req.Temperature != nil {
		actions = append(actions, turn.SetTemperature{Value: *req.Temperature})
	}
	if req.Streaming != nil {
		actions = append(actions, turn.SetStreaming{Enabled: *req.Streaming})
	}
	s.execute(w, r, actions...)
}

type attachment struct {
	Data     strfmt.Base64 `json:"data"`
	MIMEType string        `json:"mime_type"`
}

type messageRequest struct {
	Text  string      `json:"text"`
	Image *attachment `json:"image,omitempty"`
	Audio *attachment `json:"audio,omitempty"`
}

// postMessage records the user message, then streams the reply. An empty message on a
// session with a pending user message only generates the reply.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	st, ok := s.session(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	resume := req.Text == "" && req.Image == nil && req.Audio == nil && st.Phase == session.UserMessageRecorded
	if !resume {
		var actions []turn.Action
		if req.Image != nil {
			actions = append(actions, turn.StageImage{Data: req.Image.Data, MIMEType: req.Image.MIMEType})
		}
		if req.Audio != nil {
			actions = append(actions, turn.StageAudio{Data: req.Audio.Data, MIMEType: req.Audio.MIMEType})
		}
		actions = append(actions, turn.Submit{Text: req.Text})
		for _, action := range actions {
			next, err := s.ctrl.Execute(ctx, st.ID, action, nil)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			st = next
		}
		s.publishState(ctx, st)
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, errStreamingUnsupported)
		return
	}
	present := turn.PresenterFunc(func(text string) {
		sse.Fragment(text)
		s.publish(ctx, st.ID, Event{Kind: EventFragment, Text: text})
	})
	final, err := s.ctrl.Drive(ctx, st.ID, nil, present)
	if err != nil {
		slog.WarnContext(ctx, "turn did not complete", slogx.LoggerName("server"), slogx.Session(st.ID), slogx.Error(err))
		sse.send(EventError, errorPayload{Error: err.Error()})
		return
	}
	sse.send(EventDone, viewOf(final))
	s.publishState(ctx, final)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, turn.Clear{})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, turn.NewConversation{})
}

// execute applies actions in order and responds with the resulting state.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, actions ...turn.Action) {
	st, ok := s.session(w, r)
	if !ok {
		return
	}
	for _, action := range actions {
		next, err := s.ctrl.Execute(r.Context(), st.ID, action, nil)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		st = next
	}
	s.publishState(r.Context(), st)
	respondJSON(w, http.StatusOK, viewOf(st))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", slogx.LoggerName("server"), slogx.Error(err))
	}
	respondError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, turn.ErrModelLocked),
		errors.Is(err, turn.ErrNotIdle),
		errors.Is(err, turn.ErrTurnInFlight),
		errors.Is(err, turn.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, turn.ErrNoModel),
		errors.Is(err, turn.ErrEmptyMessage),
		errors.Is(err, turn.ErrEmptyAttachment),
		errors.Is(err, turn.ErrInvalidTemperature),
		errors.Is(err, turn.ErrUnknownPersonality),
		errors.Is(err, turn.ErrMissingInstructions):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
