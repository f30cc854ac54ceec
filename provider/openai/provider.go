package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/provider"
	"github.com/fogfish/opts"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var _ provider.Provider = (*Provider)(nil)

// CredentialName is the environment variable holding the OpenAI API key.
const CredentialName = "OPENAI_API_KEY"

var errEmptyResponse = errors.New("response contained no choices")

// Provider talks to a chat completions endpoint.
type Provider struct {
	id            provider.AdapterID
	credential    provider.Credential
	defaultSystem string
	maxTokens     int64
	client        *openai.Client
}

// New creates the OpenAI adapter.
func New(options ...opts.Option[provider.Options]) (*Provider, error) {
	return NewCompatible(provider.OpenAI, CredentialName, "", options...)
}

// NewCompatible creates an adapter for an endpoint that speaks the OpenAI chat
// completions protocol. credentialName is reported when no key is configured and
// defaultSystem is sent when the request has no system prompt.
func NewCompatible(id provider.AdapterID, credentialName, defaultSystem string, options ...opts.Option[provider.Options]) (*Provider, error) {
	cfg, err := provider.NewOptions(options...)
	if err != nil {
		return nil, err
	}
	cred := cfg.Credential()
	if cred.Name == "" {
		cred.Name = credentialName
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
		id:            id,
		credential:    cred,
		defaultSystem: defaultSystem,
		maxTokens:     cfg.MaxTokens(),
		client:        openai.NewClient(reqOpts...),
	}, nil
}

func (p *Provider) ID() provider.AdapterID {
	return p.id
}

func (p *Provider) Generate(ctx context.Context, req *provider.TurnRequest) (string, error) {
	params, err := p.buildRequest(req)
	if err != nil {
		return "", err
	}

	chat, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", provider.Wrap(p.id, err)
	}
	if len(chat.Choices) == 0 {
		return "", provider.Wrap(p.id, errEmptyResponse)
	}
	return chat.Choices[0].Message.Content, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req *provider.TurnRequest) (*provider.Stream, error) {
	params, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	strm := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := strm.Err(); err != nil {
		strm.Close()
		return nil, provider.Wrap(p.id, err)
	}

	return provider.NewStream(func(yield func(string, error) bool) {
		defer strm.Close()
		for strm.Next() {
			chunk := strm.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := strm.Err(); err != nil {
			yield("", provider.Wrap(p.id, err))
		}
	}), nil
}

func (p *Provider) buildRequest(req *provider.TurnRequest) (openai.ChatCompletionNewParams, error) {
	if err := p.credential.Require(p.id); err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	if err := req.CheckInputs(p.id); err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	system := req.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = p.defaultSystem
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case messages.User:
			parts := toContentParts(provider.Downgrade(msg.Content, req.Capabilities.Inputs))
			if len(parts) == 0 {
				continue
			}
			msgs = append(msgs, openai.UserMessageParts(parts...))
		case messages.Assistant:
			msgs = append(msgs, assistantMessage(msg.Content.PlainText()))
		}
	}

	msgs = append(msgs, openai.UserMessageParts(toContentParts(req.CurrentParts())...))

	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(msgs),
		Model:       openai.F(req.Model),
		N:           openai.Int(1),
		Temperature: openai.Float(req.Temperature),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(p.maxTokens)
	}
	return params, nil
}

func assistantMessage(text string) openai.ChatCompletionAssistantMessageParam {
	return openai.ChatCompletionAssistantMessageParam{
		Role: openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
		Content: openai.F([]openai.ChatCompletionAssistantMessageParamContentUnion{
			openai.TextPart(text),
		}),
	}
}

func toContentParts(parts []messages.Part) []openai.ChatCompletionContentPartUnionParam {
	result := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part := part.(type) {
		case messages.TextPart:
			result = append(result, openai.TextPart(part.Text))
		case messages.ImagePart:
			result = append(result, openai.ChatCompletionContentPartImageParam{
				ImageURL: openai.F(openai.ChatCompletionContentPartImageImageURLParam{
					URL: openai.String(dataURL(part.MIMEType, part.Data.String())),
				}),
				Type: openai.F(openai.ChatCompletionContentPartImageTypeImageURL),
			})
		case messages.AudioPart:
			result = append(result, openai.ChatCompletionContentPartInputAudioParam{
				InputAudio: openai.F(openai.ChatCompletionContentPartInputAudioInputAudioParam{
					Data:   openai.String(part.Data.String()),
					Format: openai.F(audioFormat(part.MIMEType)),
				}),
				Type: openai.F(openai.ChatCompletionContentPartInputAudioTypeInputAudio),
			})
		}
	}
	return result
}

func dataURL(mimeType, b64 string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, b64)
}

func audioFormat(mimeType string) openai.ChatCompletionContentPartInputAudioInputAudioFormat {
	if strings.Contains(mimeType, "mp3") || strings.Contains(mimeType, "mpeg") {
		return openai.ChatCompletionContentPartInputAudioInputAudioFormatMP3
	}
	return openai.ChatCompletionContentPartInputAudioInputAudioFormatWAV
}
