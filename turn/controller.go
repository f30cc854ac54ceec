// Package turn drives the turn-taking state machine of a chat session.
//
// A host calls Execute once per user interaction. An execution loads the session,
// applies the action, steps the machine to its next suspension point, persists the
// session and returns. Nothing is carried in memory between executions:
//
//	Idle -> AwaitingUserInput -> UserMessageRecorded -> GeneratingResponse -> ResponseRecorded -> Idle
//
// Execution stops right after a user message is recorded, so the host can render it,
// and again after the reply is recorded. Every user message gets exactly one assistant
// reply, and failures are recorded as that reply.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/garden/history"
	"github.com/casualjim/garden/internal/metrics"
	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/provider"
	"github.com/casualjim/garden/registry"
	"github.com/casualjim/garden/router"
	"github.com/casualjim/garden/session"
	"github.com/fogfish/opts"
)

var (
	ErrModelLocked         = errors.New("model can't be changed while a response is being generated")
	ErrNotIdle             = errors.New("history can only be cleared while idle")
	ErrTurnInFlight        = errors.New("a turn is already in flight")
	ErrNoModel             = errors.New("no model selected")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrEmptyAttachment     = errors.New("attachment needs data and a mime type")
	ErrInvalidTemperature  = errors.New("temperature must be between 0 and 1")
	ErrUnknownPersonality  = errors.New("unknown personality")
	ErrMissingInstructions = errors.New("custom personality needs instructions")

	// ErrConflict is returned when another execution changed the session first.
	ErrConflict = session.ErrConflict
)

// InterruptedReply closes a turn whose generation never finished.
const InterruptedReply = "Error: the response was interrupted before it completed."

// DefaultStaleAfter is how long a session may sit in GeneratingResponse before the next
// execution gives up on it.
const DefaultStaleAfter = 5 * time.Minute

// Router dispatches a turn to a model.
type Router interface {
	Route(ctx context.Context, key string, req *provider.TurnRequest) (router.Reply, error)
}

// Models is the view of the model registry the controller needs.
type Models interface {
	Lookup(key string) (registry.ModelDescriptor, error)
	Keys() []string
}

type Controller struct {
	sessions session.Store
	history  *history.Store
	router   Router
	models   Models

	defaultModel       string
	defaultTemperature float64
	staleAfter         time.Duration
	clock              func() time.Time
}

var (
	// WithDefaultModel selects the model new sessions start on. Defaults to the first key.
	WithDefaultModel       = opts.ForName[Controller, string]("defaultModel")
	WithDefaultTemperature = opts.ForName[Controller, float64]("defaultTemperature")
	WithStaleAfter         = opts.ForName[Controller, time.Duration]("staleAfter")
	WithClock              = opts.ForName[Controller, func() time.Time]("clock")
)

// New creates a controller. A nil history store disables persistence.
func New(sessions session.Store, hist *history.Store, r Router, models Models, options ...opts.Option[Controller]) (*Controller, error) {
	var err error
	if sessions == nil {
		err = errors.Join(err, errors.New("session store is required"))
	}
	if r == nil {
		err = errors.Join(err, errors.New("router is required"))
	}
	if models == nil {
		err = errors.Join(err, errors.New("models are required"))
	}
	if err != nil {
		return nil, err
	}
	if hist == nil {
		hist = history.Disabled()
	}

	c := &Controller{
		sessions:           sessions,
		history:            hist,
		router:             r,
		models:             models,
		defaultTemperature: 0.7,
		staleAfter:         DefaultStaleAfter,
		clock:              time.Now,
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	if c.defaultTemperature < 0 || c.defaultTemperature > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemperature, c.defaultTemperature)
	}
	if c.defaultModel == "" {
		if keys := models.Keys(); len(keys) > 0 {
			c.defaultModel = keys[0]
		}
	}
	if c.defaultModel != "" {
		if _, err := models.Lookup(c.defaultModel); err != nil {
			return nil, fmt.Errorf("default model %q: %w", c.defaultModel, err)
		}
	}
	return c, nil
}

// Start creates a session for the caller's identity on the default model and loads that
// model's stored conversation. Without a user the session has no history persistence.
func (c *Controller) Start(ctx context.Context, identity Identity) (*session.State, error) {
	user := ""
	if identity != nil {
		if u, ok := identity.CurrentUser(); ok {
			user = u
		}
	}
	st := session.New(user)
	st.Temperature = c.defaultTemperature
	st.Streaming = true
	st.ModelKey = c.defaultModel
	if st.ModelKey != "" {
		c.load(ctx, st)
	}
	c.settle(st)

	if err := c.sessions.Create(ctx, st); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "session started", slogx.LoggerName("turn"), slogx.Session(st.ID), slogx.Model(st.ModelKey), slogx.Phase(st.Phase))
	return st, nil
}

// State returns the stored session without changing it.
func (c *Controller) State(ctx context.Context, id string) (*session.State, error) {
	return c.sessions.Get(ctx, id)
}

// Execute runs one execution for session id. A nil action only advances the machine.
// Misuse errors (ErrModelLocked, ErrNotIdle, ErrTurnInFlight, ErrConflict, ...) are
// returned and never recorded in the conversation.
func (c *Controller) Execute(ctx context.Context, id string, action Action, p Presenter) (*session.State, error) {
	if p == nil {
		p = Discard
	}
	st, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	startPhase := st.Phase

	if st.Phase == session.GeneratingResponse {
		if st.Since(c.now()) < c.staleAfter {
			if action == nil {
				return st, nil
			}
			return st, lockedError(action)
		}
		c.interrupt(ctx, st)
	}
	c.settle(st)

	if action != nil {
		if err := action.apply(ctx, c, st); err != nil {
			return st, err
		}
		c.settle(st)
		if err := c.sessions.Update(ctx, st); err != nil {
			return st, err
		}
		return st, nil
	}

	if st.Phase != session.UserMessageRecorded {
		if st.Phase != startPhase {
			if err := c.sessions.Update(ctx, st); err != nil {
				return st, err
			}
		}
		return st, nil
	}
	return st, c.generate(ctx, st, p)
}

// Drive applies action and then keeps executing until the session waits for user input
// again, so one call covers a whole turn. Fragments reach p as they arrive.
func (c *Controller) Drive(ctx context.Context, id string, action Action, p Presenter) (*session.State, error) {
	st, err := c.Execute(ctx, id, action, p)
	if err != nil {
		return st, err
	}
	// user message recorded, response recorded, settled
	for range 3 {
		if st.Phase != session.UserMessageRecorded && st.Phase != session.ResponseRecorded {
			return st, nil
		}
		if st, err = c.Execute(ctx, id, nil, p); err != nil {
			return st, err
		}
	}
	return st, nil
}

// generate takes the session from UserMessageRecorded to ResponseRecorded.
func (c *Controller) generate(ctx context.Context, st *session.State, p Presenter) error {
	st.SetPhase(session.GeneratingResponse, c.now())
	if err := c.sessions.Update(ctx, st); err != nil {
		return err
	}

	last, _ := st.Conversation.Last()
	req := &provider.TurnRequest{
		Prompt:       last.Content.PlainText(),
		History:      st.Conversation.Prior(),
		Temperature:  st.Temperature,
		Streaming:    st.Streaming,
		SystemPrompt: st.SystemPrompt,
	}
	if img, ok := last.Content.Image(); ok {
		req.Image = &img
	}
	if clip, ok := last.Content.Audio(); ok {
		req.Audio = &clip
	}

	adapter := "unknown"
	if desc, err := c.models.Lookup(st.ModelKey); err == nil {
		adapter = string(desc.Adapter)
	}
	present := PresenterFunc(func(fragment string) {
		metrics.ObserveFragment(adapter)
		p.Fragment(fragment)
	})

	text, turnErr := c.reply(ctx, st.ModelKey, req, present)
	metrics.ObserveTurn(adapter, turnErr)
	if turnErr != nil {
		slog.WarnContext(ctx, "turn failed", slogx.LoggerName("turn"), slogx.Session(st.ID), slogx.Model(st.ModelKey), slogx.Error(turnErr))
	}

	st.Conversation = st.Conversation.Append(messages.NewAssistantMessage(text))
	c.historyFor(st).Save(ctx, historyID(st), st.Conversation)
	st.SetPhase(session.ResponseRecorded, c.now())
	return c.sessions.Update(ctx, st)
}

// reply routes the request and returns the text to record. Errors are folded into the
// text; the returned error is only for logging and metrics.
func (c *Controller) reply(ctx context.Context, key string, req *provider.TurnRequest, p Presenter) (string, error) {
	rep, err := c.router.Route(ctx, key, req)
	if err != nil {
		p.Fragment(err.Error())
		return err.Error(), err
	}

	strm, ok := rep.Stream()
	if !ok {
		text, _ := rep.Text()
		p.Fragment(text)
		return text, nil
	}

	partial, err := provider.Drain(strm, p.Fragment)
	if err == nil {
		return partial, nil
	}
	terminal := err.Error()
	if partial != "" {
		terminal = "\n\n" + terminal
	}
	p.Fragment(terminal)
	return partial + terminal, err
}

// interrupt closes a stale generation with an assistant message.
func (c *Controller) interrupt(ctx context.Context, st *session.State) {
	slog.WarnContext(ctx, "closing stale generation", slogx.LoggerName("turn"), slogx.Session(st.ID), slogx.Phase(st.Phase))
	st.Conversation = st.Conversation.Append(messages.NewAssistantMessage(InterruptedReply))
	c.historyFor(st).Save(ctx, historyID(st), st.Conversation)
	st.SetPhase(session.ResponseRecorded, c.now())
}

// settle applies the transitions that need no input: a recorded reply returns to Idle
// and an idle session with a model waits for input.
func (c *Controller) settle(st *session.State) {
	if st.Phase == session.ResponseRecorded {
		st.SetPhase(session.Idle, c.now())
	}
	if st.Phase == session.Idle && st.ModelKey != "" {
		st.SetPhase(session.AwaitingUserInput, c.now())
	}
}

// load swaps in the stored conversation for the session's model. A conversation that
// ends with a user message resumes at UserMessageRecorded.
func (c *Controller) load(ctx context.Context, st *session.State) {
	st.Conversation = c.historyFor(st).Load(ctx, historyID(st))
	if last, ok := st.Conversation.Last(); ok && last.Role == messages.User {
		st.SetPhase(session.UserMessageRecorded, c.now())
		return
	}
	st.SetPhase(session.Idle, c.now())
}

func (c *Controller) historyFor(st *session.State) *history.Store {
	if st.User == "" {
		return history.Disabled()
	}
	return c.history.ForUser(st.User)
}

func (c *Controller) now() time.Time {
	return c.clock()
}

func historyID(st *session.State) string {
	return history.IDFor(st.ModelKey)
}

func lockedError(action Action) error {
	switch action.(type) {
	case SelectModel, *SelectModel:
		return ErrModelLocked
	case Clear, *Clear:
		return ErrNotIdle
	default:
		return ErrTurnInFlight
	}
}
