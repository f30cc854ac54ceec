// Package session persists the per-session context the turn controller works on:
// the selected model, generation settings, the active conversation and the turn phase.
//
// Every update is guarded by a version number. A store refuses an update whose
// version does not match the stored one, which keeps two concurrent executions for the
// same session from both starting a turn.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/pkg/uuidx"
	"github.com/go-openapi/strfmt"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrConflict = errors.New("session was modified concurrently")
	ErrExists   = errors.New("session already exists")
)

// Phase is the position of a session in the turn state machine.
type Phase string

const (
	Idle                Phase = "idle"
	AwaitingUserInput   Phase = "awaiting_user_input"
	UserMessageRecorded Phase = "user_message_recorded"
	GeneratingResponse  Phase = "generating_response"
	ResponseRecorded    Phase = "response_recorded"
)

func (p Phase) String() string { return string(p) }

// Busy reports whether a turn is between the user message and the recorded reply.
func (p Phase) Busy() bool {
	return p == UserMessageRecorded || p == GeneratingResponse
}

// State is everything a session remembers between executions.
type State struct {
	ID           string                `json:"id"`
	Version      int64                 `json:"version"`
	User         string                `json:"user,omitempty"`
	ModelKey     string                `json:"model_key,omitempty"`
	Temperature  float64               `json:"temperature"`
	Streaming    bool                  `json:"streaming"`
	Personality  string                `json:"personality,omitempty"`
	SystemPrompt string                `json:"system_prompt,omitempty"`
	Phase        Phase                 `json:"phase"`
	PhaseSince   strfmt.DateTime       `json:"phase_since"`
	Conversation messages.Conversation `json:"conversation"`
	PendingImage *messages.ImagePart   `json:"pending_image,omitempty"`
	PendingAudio *messages.AudioPart   `json:"pending_audio,omitempty"`
	CreatedAt    strfmt.DateTime       `json:"created_at"`
	UpdatedAt    strfmt.DateTime       `json:"updated_at"`
}

// New returns an idle state with a fresh id.
func New(user string) *State {
	return &State{
		ID:           uuidx.NewString(),
		User:         user,
		Phase:        Idle,
		PhaseSince:   strfmt.DateTime(time.Now().UTC()),
		Conversation: messages.Conversation{},
	}
}

// SetPhase moves the state to p and records when it happened.
func (s *State) SetPhase(p Phase, now time.Time) {
	s.Phase = p
	s.PhaseSince = strfmt.DateTime(now.UTC())
}

// Since returns how long the state has been in its current phase.
func (s *State) Since(now time.Time) time.Duration {
	return now.Sub(time.Time(s.PhaseSince))
}

// Store loads and saves session state.
type Store interface {
	// Create stores a new session with Version 1. ErrExists when the id is taken.
	Create(ctx context.Context, state *State) error
	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*State, error)
	// Update persists state when its Version matches the stored one and increments
	// Version on success. ErrConflict on mismatch, ErrNotFound when missing.
	Update(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
	Close() error
}

func stamp(state *State, version int64) {
	now := strfmt.DateTime(time.Now().UTC())
	if time.Time(state.CreatedAt).IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	state.Version = version
	if state.Conversation == nil {
		state.Conversation = messages.Conversation{}
	}
}
