/*
Package openai implements provider.Provider on top of the OpenAI chat completions API.

The same implementation backs any endpoint that speaks the chat completions protocol:
NewCompatible binds it to a different adapter id, endpoint and default system prompt,
which is how the Perplexity adapter is built.

# Message Handling

  - History user messages become multi-part user messages; images the model can't take
    are replaced by a placeholder
  - History assistant messages become plain assistant messages
  - The current prompt and its attachments form the final user message, with images
    sent as base64 data URLs

# Streaming

GenerateStream opens the SSE stream before returning, so connection and HTTP errors are
reported immediately. Content deltas are yielded in arrival order; empty deltas are
skipped. A failure while reading the stream ends it with a *provider.ProviderError.

Example:

	p, err := openai.New(
		provider.WithCredential(provider.Credential{Name: "OPENAI_API_KEY", Value: key}),
	)
*/
package openai
