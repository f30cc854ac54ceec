package provider

import (
	"context"
	"strings"

	"github.com/casualjim/garden/messages"
)

// AdapterID names a provider adapter.
type AdapterID string

const (
	Gemini     AdapterID = "gemini"
	OpenAI     AdapterID = "openai"
	Anthropic  AdapterID = "anthropic"
	Perplexity AdapterID = "perplexity"
)

// DisplayName is the human facing vendor name, used in error text.
func (a AdapterID) DisplayName() string {
	switch a {
	case Gemini:
		return "Gemini"
	case OpenAI:
		return "OpenAI"
	case Anthropic:
		return "Anthropic"
	case Perplexity:
		return "Perplexity"
	default:
		return string(a)
	}
}

// Provider is implemented by every backend adapter.
type Provider interface {
	ID() AdapterID
	Generate(context.Context, *TurnRequest) (string, error)
	GenerateStream(context.Context, *TurnRequest) (*Stream, error)
}

// Modality is a bit set of input kinds a model accepts.
type Modality uint8

const (
	InputText Modality = 1 << iota
	InputImage
	InputAudio
)

// Has reports whether all bits of o are present in m.
func (m Modality) Has(o Modality) bool {
	return m&o == o
}

func (m Modality) String() string {
	var names []string
	if m.Has(InputText) {
		names = append(names, "text")
	}
	if m.Has(InputImage) {
		names = append(names, "image")
	}
	if m.Has(InputAudio) {
		names = append(names, "audio")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// Capabilities describe what a backend model can do.
type Capabilities struct {
	Streaming bool     `json:"streaming"`
	Inputs    Modality `json:"inputs"`
}

// TurnRequest carries everything an adapter needs to produce one reply.
// The controller builds it per turn and discards it afterwards.
type TurnRequest struct {
	// Prompt is the text of the message being answered.
	Prompt string
	// History holds the conversation before the message being answered.
	History messages.Conversation
	// Image and Audio are optional attachments on the current message.
	Image *messages.ImagePart
	Audio *messages.AudioPart
	// Temperature is in [0,1].
	Temperature float64
	Streaming   bool
	// SystemPrompt is optional; adapters may substitute a default.
	SystemPrompt string
	// Model is the backend model name, stamped by the router.
	Model        string
	Capabilities Capabilities

	_ struct{}
}

// CheckInputs returns an *UnsupportedInputError when the request carries an
// attachment the model can't accept.
func (r *TurnRequest) CheckInputs(adapter AdapterID) error {
	if r.Image != nil && !r.Capabilities.Inputs.Has(InputImage) {
		return &UnsupportedInputError{Adapter: adapter, Model: r.Model, Input: InputImage}
	}
	if r.Audio != nil && !r.Capabilities.Inputs.Has(InputAudio) {
		return &UnsupportedInputError{Adapter: adapter, Model: r.Model, Input: InputAudio}
	}
	return nil
}

// CurrentParts returns the parts of the message being answered: the prompt followed by
// the attachments. An empty prompt is left out when there is an attachment.
func (r *TurnRequest) CurrentParts() []messages.Part {
	var parts []messages.Part
	if r.Prompt != "" || (r.Image == nil && r.Audio == nil) {
		parts = append(parts, messages.Text(r.Prompt))
	}
	if r.Image != nil {
		parts = append(parts, *r.Image)
	}
	if r.Audio != nil {
		parts = append(parts, *r.Audio)
	}
	return parts
}

// Downgrade maps historical content onto what the model accepts. Parts the model can't
// take are replaced by a text placeholder so a past attachment never fails a later turn.
func Downgrade(content messages.Content, accepts Modality) []messages.Part {
	if !content.IsMultipart() {
		if content.Text == "" {
			return nil
		}
		return []messages.Part{messages.Text(content.Text)}
	}
	parts := make([]messages.Part, 0, len(content.Parts))
	for _, p := range content.Parts {
		switch pt := p.(type) {
		case messages.TextPart:
			parts = append(parts, pt)
		case messages.ImagePart:
			if accepts.Has(InputImage) {
				parts = append(parts, pt)
			} else {
				parts = append(parts, messages.Text(messages.Placeholder(pt)))
			}
		case messages.AudioPart:
			if accepts.Has(InputAudio) {
				parts = append(parts, pt)
			} else {
				parts = append(parts, messages.Text(messages.Placeholder(pt)))
			}
		}
	}
	return parts
}

// Credential is a named secret, for example OPENAI_API_KEY.
type Credential struct {
	Name  string
	Value string
}

// Require returns a *ConfigurationError when the credential is empty.
func (c Credential) Require(adapter AdapterID) error {
	if strings.TrimSpace(c.Value) == "" {
		return &ConfigurationError{Adapter: adapter, Credential: c.Name}
	}
	return nil
}
