// Package anthropic adapts Claude models through the official anthropic-sdk-go client.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/provider"
	"github.com/fogfish/opts"
)

const CredentialName = "ANTHROPIC_API_KEY"

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	credential provider.Credential
	maxTokens  int64
	client     anthropic.Client
}

func New(options ...opts.Option[provider.Options]) (*Provider, error) {
	cfg, err := provider.NewOptions(options...)
	if err != nil {
		return nil, err
	}
	cred := cfg.Credential()
	if cred.Name == "" {
		cred.Name = CredentialName
	}

	var reqOpts []option.RequestOption
	if cred.Value != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cred.Value))
	}
	if cfg.BaseURL() != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL()))
	}
	if cfg.HTTPClient() != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient()))
	}
	if retries, ok := cfg.MaxRetries(); ok {
		reqOpts = append(reqOpts, option.WithMaxRetries(retries))
	}

	return &Provider{
		credential: cred,
		maxTokens:  cfg.MaxTokens(),
		client:     anthropic.NewClient(reqOpts...),
	}, nil
}

func (p *Provider) ID() provider.AdapterID {
	return provider.Anthropic
}

func (p *Provider) Generate(ctx context.Context, req *provider.TurnRequest) (string, error) {
	params, err := p.buildRequest(req)
	if err != nil {
		return "", err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", provider.Wrap(provider.Anthropic, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (p *Provider) GenerateStream(ctx context.Context, req *provider.TurnRequest) (*provider.Stream, error) {
	params, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	strm := p.client.Messages.NewStreaming(ctx, params)
	if err := strm.Err(); err != nil {
		strm.Close()
		return nil, provider.Wrap(provider.Anthropic, err)
	}

	return provider.NewStream(func(yield func(string, error) bool) {
		defer strm.Close()
		for strm.Next() {
			event := strm.Current()
			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if !yield(delta.Text, nil) {
				return
			}
		}
		if err := strm.Err(); err != nil {
			yield("", provider.Wrap(provider.Anthropic, err))
		}
	}), nil
}

func (p *Provider) buildRequest(req *provider.TurnRequest) (anthropic.MessageNewParams, error) {
	if err := p.credential.Require(provider.Anthropic); err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if err := req.CheckInputs(provider.Anthropic); err != nil {
		return anthropic.MessageNewParams{}, err
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, msg := range req.History {
		blocks := toBlocks(provider.Downgrade(msg.Content, req.Capabilities.Inputs))
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case messages.User:
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		case messages.Assistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		}
	}

	msgs = append(msgs, anthropic.NewUserMessage(toBlocks(req.CurrentParts())...))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   p.maxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(req.Temperature),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params, nil
}

// toBlocks converts parts to content blocks. Claude has no audio input, audio only
// reaches here from history after being replaced with a placeholder.
func toBlocks(parts []messages.Part) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part := part.(type) {
		case messages.TextPart:
			if part.Text == "" {
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case messages.ImagePart:
			blocks = append(blocks, anthropic.NewImageBlockBase64(part.MIMEType, part.Data.String()))
		}
	}
	return blocks
}
