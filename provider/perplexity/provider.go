// Package perplexity adapts the Perplexity chat API, which speaks the OpenAI chat
// completions protocol. Replies are requested in one piece and delivered to streaming
// callers as a single fragment.
package perplexity

import (
	"context"

	"github.com/casualjim/garden/provider"
	"github.com/casualjim/garden/provider/openai"
	"github.com/fogfish/opts"
)

const (
	// BaseURL is the Perplexity API endpoint.
	BaseURL        = "https://api.perplexity.ai/"
	CredentialName = "PERPLEXITY_API_KEY"
	// DefaultSystemPrompt is sent when the turn has no system prompt of its own.
	DefaultSystemPrompt = "You are a helpful AI assistant."
)

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	chat *openai.Provider
}

// New creates the Perplexity adapter. A WithBaseURL option overrides BaseURL.
func New(options ...opts.Option[provider.Options]) (*Provider, error) {
	options = append([]opts.Option[provider.Options]{provider.WithBaseURL(BaseURL)}, options...)
	chat, err := openai.NewCompatible(provider.Perplexity, CredentialName, DefaultSystemPrompt, options...)
	if err != nil {
		return nil, err
	}
	return &Provider{chat: chat}, nil
}

func (p *Provider) ID() provider.AdapterID {
	return provider.Perplexity
}

func (p *Provider) Generate(ctx context.Context, req *provider.TurnRequest) (string, error) {
	return p.chat.Generate(ctx, textOnly(req))
}

func (p *Provider) GenerateStream(ctx context.Context, req *provider.TurnRequest) (*provider.Stream, error) {
	text, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return provider.SingleFragment(text), nil
}

// textOnly pins the accepted inputs to text whatever the descriptor claims.
func textOnly(req *provider.TurnRequest) *provider.TurnRequest {
	clone := *req
	clone.Capabilities.Inputs = provider.InputText
	clone.Capabilities.Streaming = false
	return &clone
}
