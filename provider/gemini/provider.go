// Package gemini adapts Google's Gemini models through the google.golang.org/genai SDK.
// Gemini accepts text, images and audio and streams natively. The assistant role is
// sent as "model".
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/provider"
	"github.com/fogfish/opts"
	"google.golang.org/genai"
)

const (
	CredentialName = "GEMINI_API_KEY"

	roleUser  = "user"
	roleModel = "model"
)

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	cfg provider.Options

	client     *genai.Client
	clientErr  error
	clientOnce sync.Once
}

func New(options ...opts.Option[provider.Options]) (*Provider, error) {
	cfg, err := provider.NewOptions(options...)
	if err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) ID() provider.AdapterID {
	return provider.Gemini
}

func (p *Provider) credential() provider.Credential {
	cred := p.cfg.Credential()
	if cred.Name == "" {
		cred.Name = CredentialName
	}
	return cred
}

// genaiClient creates the SDK client on first use, once a credential is known to exist.
func (p *Provider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.clientOnce.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     p.credential().Value,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: p.cfg.HTTPClient(),
		}
		if p.cfg.BaseURL() != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.cfg.BaseURL()}
		}
		p.client, p.clientErr = genai.NewClient(ctx, cc)
	})
	return p.client, p.clientErr
}

func (p *Provider) prepare(ctx context.Context, req *provider.TurnRequest) (*genai.Client, []*genai.Content, *genai.GenerateContentConfig, error) {
	if err := p.credential().Require(provider.Gemini); err != nil {
		return nil, nil, nil, err
	}
	if err := req.CheckInputs(provider.Gemini); err != nil {
		return nil, nil, nil, err
	}
	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, nil, nil, provider.Wrap(provider.Gemini, err)
	}
	contents, config := buildRequest(req)
	return client, contents, config, nil
}

func (p *Provider) Generate(ctx context.Context, req *provider.TurnRequest) (string, error) {
	client, contents, config, err := p.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", provider.Wrap(provider.Gemini, err)
	}
	text := responseText(resp)
	if text == "" && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", provider.Wrap(provider.Gemini, fmt.Errorf("%w: %s", errBlocked, resp.PromptFeedback.BlockReason))
	}
	return text, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req *provider.TurnRequest) (*provider.Stream, error) {
	client, contents, config, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// The SDK only sends the request once the sequence is pulled. Pull the first
	// response here so connection and HTTP errors surface before a stream exists.
	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, req.Model, contents, config))
	first, err, ok := next()
	if err != nil {
		stop()
		return nil, provider.Wrap(provider.Gemini, err)
	}

	return provider.NewStream(func(yield func(string, error) bool) {
		defer stop()
		resp := first
		for ok {
			if text := responseText(resp); text != "" {
				if !yield(text, nil) {
					return
				}
			}
			resp, err, ok = next()
			if err != nil {
				yield("", provider.Wrap(provider.Gemini, err))
				return
			}
		}
	}), nil
}

func buildRequest(req *provider.TurnRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		parts := toParts(provider.Downgrade(msg.Content, req.Capabilities.Inputs))
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role(msg.Role), Parts: parts})
	}

	contents = append(contents, &genai.Content{Role: roleUser, Parts: toParts(req.CurrentParts())})

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	return contents, config
}

func role(r messages.Role) string {
	if r == messages.Assistant {
		return roleModel
	}
	return roleUser
}

func toParts(parts []messages.Part) []*genai.Part {
	result := make([]*genai.Part, 0, len(parts))
	for _, part := range parts {
		switch part := part.(type) {
		case messages.TextPart:
			result = append(result, &genai.Part{Text: part.Text})
		case messages.ImagePart:
			result = append(result, &genai.Part{InlineData: &genai.Blob{MIMEType: part.MIMEType, Data: []byte(part.Data)}})
		case messages.AudioPart:
			result = append(result, &genai.Part{InlineData: &genai.Blob{MIMEType: part.MIMEType, Data: []byte(part.Data)}})
		}
	}
	return result
}

var errBlocked = errors.New("response blocked")

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
