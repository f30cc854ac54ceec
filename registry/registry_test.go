package registry

import (
	"context"
	"testing"

	"github.com/casualjim/garden/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ id provider.AdapterID }

func (s stubProvider) ID() provider.AdapterID { return s.id }
func (s stubProvider) Generate(context.Context, *provider.TurnRequest) (string, error) {
	return "", nil
}
func (s stubProvider) GenerateStream(context.Context, *provider.TurnRequest) (*provider.Stream, error) {
	return provider.SingleFragment(""), nil
}

func TestDefaultRegistry(t *testing.T) {
	r, err := NewDefault(stubProvider{id: provider.OpenAI})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Gemini 1.5 Pro (Google)",
		"Gemini 1.5 Flash (Google)",
		"Gemini 2.0 Flash (Google)",
		"Claude 3.5 Sonnet (Anthropic)",
		"GPT-4o (OpenAI)",
		"GPT-4 Turbo (OpenAI)",
		"GPT-3.5 Turbo (OpenAI)",
		"Perplexity Online 70B (Perplexity)",
		"Perplexity Chat 70B (Perplexity)",
	}, r.Keys())

	// stable across calls
	assert.Equal(t, r.Keys(), r.Keys())
	assert.Len(t, r.Descriptors(), 9)

	desc, err := r.Lookup("GPT-4o (OpenAI)")
	require.NoError(t, err)
	assert.Equal(t, provider.OpenAI, desc.Adapter)
	assert.Equal(t, "gpt-4o", desc.BackendModel)
	assert.True(t, desc.Capabilities.Inputs.Has(provider.InputImage))

	pplx, err := r.Lookup("Perplexity Online 70B (Perplexity)")
	require.NoError(t, err)
	assert.False(t, pplx.Capabilities.Streaming)
}

func TestRegistry_Lookup_NotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("Nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	r := New()
	desc := ModelDescriptor{DisplayKey: "A", Adapter: provider.OpenAI, BackendModel: "a"}
	require.NoError(t, r.Register(desc))
	assert.ErrorIs(t, r.Register(desc), ErrDuplicateKey)
}

func TestRegistry_Provider(t *testing.T) {
	r := New()
	_, err := r.Provider(provider.Gemini)
	assert.ErrorIs(t, err, ErrNoProvider)

	r.Bind(stubProvider{id: provider.Gemini})
	p, err := r.Provider(provider.Gemini)
	require.NoError(t, err)
	assert.Equal(t, provider.Gemini, p.ID())
}
