package registry

import "github.com/casualjim/garden/provider"

var (
	multimodal = provider.Capabilities{Streaming: true, Inputs: provider.InputText | provider.InputImage | provider.InputAudio}
	vision     = provider.Capabilities{Streaming: true, Inputs: provider.InputText | provider.InputImage}
	textStream = provider.Capabilities{Streaming: true, Inputs: provider.InputText}
	textOnly   = provider.Capabilities{Streaming: false, Inputs: provider.InputText}
)

// DefaultModels is the built-in model table, in display order.
func DefaultModels() []ModelDescriptor {
	return []ModelDescriptor{
		{DisplayKey: "Gemini 1.5 Pro (Google)", Adapter: provider.Gemini, BackendModel: "gemini-1.5-pro", Capabilities: multimodal},
		{DisplayKey: "Gemini 1.5 Flash (Google)", Adapter: provider.Gemini, BackendModel: "gemini-1.5-flash", Capabilities: multimodal},
		{DisplayKey: "Gemini 2.0 Flash (Google)", Adapter: provider.Gemini, BackendModel: "gemini-2.0-flash", Capabilities: multimodal},
		{DisplayKey: "Claude 3.5 Sonnet (Anthropic)", Adapter: provider.Anthropic, BackendModel: "claude-3-5-sonnet-20241022", Capabilities: vision},
		{DisplayKey: "GPT-4o (OpenAI)", Adapter: provider.OpenAI, BackendModel: "gpt-4o", Capabilities: vision},
		{DisplayKey: "GPT-4 Turbo (OpenAI)", Adapter: provider.OpenAI, BackendModel: "gpt-4-turbo", Capabilities: vision},
		{DisplayKey: "GPT-3.5 Turbo (OpenAI)", Adapter: provider.OpenAI, BackendModel: "gpt-3.5-turbo", Capabilities: textStream},
		{DisplayKey: "Perplexity Online 70B (Perplexity)", Adapter: provider.Perplexity, BackendModel: "pplx-70b-online", Capabilities: textOnly},
		{DisplayKey: "Perplexity Chat 70B (Perplexity)", Adapter: provider.Perplexity, BackendModel: "pplx-70b-chat", Capabilities: textOnly},
	}
}
