package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/session"
)

// Action is one user interaction applied to a session at the start of an execution.
// A nil Action only advances the state machine.
type Action interface {
	apply(ctx context.Context, c *Controller, st *session.State) error
}

// Submit records a user message together with any staged attachments.
type Submit struct {
	Text string
}

func (a Submit) apply(ctx context.Context, c *Controller, st *session.State) error {
	if st.Phase.Busy() {
		return ErrTurnInFlight
	}
	if st.ModelKey == "" {
		return ErrNoModel
	}
	text := strings.TrimSpace(a.Text)
	if text == "" && st.PendingImage == nil && st.PendingAudio == nil {
		return ErrEmptyMessage
	}

	content := messages.TextContent(text)
	if st.PendingImage != nil || st.PendingAudio != nil {
		var parts []messages.Part
		if text != "" {
			parts = append(parts, messages.Text(text))
		}
		if st.PendingImage != nil {
			parts = append(parts, *st.PendingImage)
		}
		if st.PendingAudio != nil {
			parts = append(parts, *st.PendingAudio)
		}
		content = messages.PartsContent(parts...)
	}
	st.PendingImage, st.PendingAudio = nil, nil

	st.Conversation = st.Conversation.Append(messages.NewUserMessage(content))
	c.historyFor(st).Save(ctx, historyID(st), st.Conversation)
	st.SetPhase(session.UserMessageRecorded, c.now())
	return nil
}

// SelectModel switches the session to another model and loads its conversation.
type SelectModel struct {
	Key string
}

func (a SelectModel) apply(ctx context.Context, c *Controller, st *session.State) error {
	if st.Phase == session.GeneratingResponse {
		return ErrModelLocked
	}
	if _, err := c.models.Lookup(a.Key); err != nil {
		return fmt.Errorf("select model %q: %w", a.Key, err)
	}
	st.ModelKey = a.Key
	c.load(ctx, st)
	return nil
}

// Clear deletes the active conversation and its stored history.
type Clear struct{}

func (Clear) apply(ctx context.Context, c *Controller, st *session.State) error {
	if st.Phase != session.Idle && st.Phase != session.AwaitingUserInput {
		return ErrNotIdle
	}
	if st.ModelKey != "" {
		c.historyFor(st).Delete(ctx, historyID(st))
	}
	st.Conversation = messages.Conversation{}
	st.SetPhase(session.Idle, c.now())
	return nil
}

// NewConversation starts over with an empty conversation and default settings. The
// selected model is kept; its stored history is replaced on the next save.
type NewConversation struct{}

func (NewConversation) apply(_ context.Context, c *Controller, st *session.State) error {
	if st.Phase == session.GeneratingResponse {
		return ErrTurnInFlight
	}
	st.Conversation = messages.Conversation{}
	st.PendingImage, st.PendingAudio = nil, nil
	st.Temperature = c.defaultTemperature
	st.Streaming = true
	st.Personality, st.SystemPrompt = "", ""
	st.SetPhase(session.Idle, c.now())
	return nil
}

// SetTemperature changes the sampling temperature for later turns.
type SetTemperature struct {
	Value float64
}

func (a SetTemperature) apply(_ context.Context, _ *Controller, st *session.State) error {
	if a.Value < 0 || a.Value > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidTemperature, a.Value)
	}
	st.Temperature = a.Value
	return nil
}

// SetStreaming toggles streamed replies.
type SetStreaming struct {
	Enabled bool
}

func (a SetStreaming) apply(_ context.Context, _ *Controller, st *session.State) error {
	st.Streaming = a.Enabled
	return nil
}

// SetPersonality applies a built-in personality, or custom instructions when Name is
// "custom".
type SetPersonality struct {
	Name         string
	Instructions string
}

func (a SetPersonality) apply(_ context.Context, _ *Controller, st *session.State) error {
	if strings.EqualFold(strings.TrimSpace(a.Name), CustomPersonality) {
		instructions := strings.TrimSpace(a.Instructions)
		if instructions == "" {
			return ErrMissingInstructions
		}
		st.Personality, st.SystemPrompt = CustomPersonality, instructions
		return nil
	}
	p, err := LookupPersonality(a.Name)
	if err != nil {
		return err
	}
	st.Personality, st.SystemPrompt, st.Temperature = p.Name, p.SystemPrompt, p.Temperature
	return nil
}

// StageImage attaches an image to the next submitted message.
type StageImage struct {
	Data     []byte
	MIMEType string
}

func (a StageImage) apply(_ context.Context, _ *Controller, st *session.State) error {
	if len(a.Data) == 0 || a.MIMEType == "" {
		return ErrEmptyAttachment
	}
	img := messages.Image(a.Data, a.MIMEType)
	st.PendingImage = &img
	return nil
}

// StageAudio attaches an audio clip to the next submitted message.
type StageAudio struct {
	Data     []byte
	MIMEType string
}

func (a StageAudio) apply(_ context.Context, _ *Controller, st *session.State) error {
	if len(a.Data) == 0 || a.MIMEType == "" {
		return ErrEmptyAttachment
	}
	clip := messages.Audio(a.Data, a.MIMEType)
	st.PendingAudio = &clip
	return nil
}
