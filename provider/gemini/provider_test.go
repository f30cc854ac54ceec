package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(
		provider.WithCredential(provider.Credential{Name: CredentialName, Value: "gemini-key"}),
		provider.WithBaseURL(server.URL+"/"),
	)
	require.NoError(t, err)
	return p
}

func request() *provider.TurnRequest {
	return &provider.TurnRequest{
		Prompt:       "hello",
		Model:        "gemini-1.5-flash",
		Temperature:  0.7,
		Streaming:    true,
		Capabilities: provider.Capabilities{Streaming: true, Inputs: provider.InputText | provider.InputImage | provider.InputAudio},
	}
}

func candidate(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
}

func TestBuildRequest(t *testing.T) {
	req := request()
	req.SystemPrompt = "You are a precise and analytical assistant."
	req.History = messages.Conversation{
		messages.NewUserMessage(messages.TextContent("hi")),
		messages.NewAssistantMessage("hello there"),
	}
	aud := messages.Audio([]byte("wav bytes"), "audio/wav")
	req.Audio = &aud

	contents, config := buildRequest(req)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hello there", contents[1].Parts[0].Text)
	assert.Equal(t, "user", contents[2].Role)
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "hello", contents[2].Parts[0].Text)
	assert.Equal(t, "audio/wav", contents[2].Parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte("wav bytes"), contents[2].Parts[1].InlineData.Data)

	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.7, *config.Temperature, 0.0001)
	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "You are a precise and analytical assistant.", config.SystemInstruction.Parts[0].Text)
}

func TestProvider_MissingCredential(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), request())
	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Gemini API key not found. Set GEMINI_API_KEY environment variable.", err.Error())

	_, err = p.GenerateStream(context.Background(), request())
	require.ErrorAs(t, err, &cfgErr)
}

func TestProvider_UnsupportedInput(t *testing.T) {
	var calls atomic.Int32
	p := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	req := request()
	req.Capabilities.Inputs = provider.InputText
	img := messages.Image([]byte("jpeg"), "image/jpeg")
	req.Image = &img

	_, err := p.GenerateStream(context.Background(), req)
	var inErr *provider.UnsupportedInputError
	require.ErrorAs(t, err, &inErr)
	assert.Zero(t, calls.Load())
}

func TestProvider_Generate(t *testing.T) {
	p := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-1.5-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "gemini-key", r.Header.Get("x-goog-api-key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", gjson.GetBytes(body, "contents.0.parts.0.text").String())

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, candidate("Hi there!"))
	})

	text, err := p.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", text)
}

func TestProvider_GenerateStream(t *testing.T) {
	p := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":streamGenerateContent"), r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, text := range []string{"Hi", " there!"} {
			fmt.Fprintf(w, "data: %s\n\n", candidate(text))
			flusher.Flush()
		}
	})

	strm, err := p.GenerateStream(context.Background(), request())
	require.NoError(t, err)

	var fragments []string
	text, err := provider.Drain(strm, func(s string) { fragments = append(fragments, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there!"}, fragments)
	assert.Equal(t, "Hi there!", text)
}

func TestProvider_Generate_UpstreamError(t *testing.T) {
	p := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := p.Generate(context.Background(), request())
	var prvErr *provider.ProviderError
	require.ErrorAs(t, err, &prvErr)
	assert.Equal(t, provider.Gemini, prvErr.Adapter)

	_, err = p.GenerateStream(context.Background(), request())
	require.ErrorAs(t, err, &prvErr)
}
