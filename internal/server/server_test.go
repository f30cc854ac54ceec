package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casualjim/garden/history"
	"github.com/casualjim/garden/provider"
	"github.com/casualjim/garden/registry"
	"github.com/casualjim/garden/router"
	"github.com/casualjim/garden/session"
	"github.com/casualjim/garden/turn"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type echoProvider struct {
	id        provider.AdapterID
	fragments []string
	requests  []provider.TurnRequest
}

func (e *echoProvider) ID() provider.AdapterID { return e.id }

func (e *echoProvider) Generate(_ context.Context, req *provider.TurnRequest) (string, error) {
	if err := req.CheckInputs(e.id); err != nil {
		return "", err
	}
	e.requests = append(e.requests, *req)
	return strings.Join(e.fragments, ""), nil
}

func (e *echoProvider) GenerateStream(_ context.Context, req *provider.TurnRequest) (*provider.Stream, error) {
	if err := req.CheckInputs(e.id); err != nil {
		return nil, err
	}
	e.requests = append(e.requests, *req)
	return provider.NewStream(func(yield func(string, error) bool) {
		for _, f := range e.fragments {
			if !yield(f, nil) {
				return
			}
		}
	}), nil
}

type testServer struct {
	*httptest.Server
	openai *echoProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	oa := &echoProvider{id: provider.OpenAI, fragments: []string{"Hi", " there!"}}
	an := &echoProvider{id: provider.Anthropic, fragments: []string{"Claude here"}}
	models, err := registry.NewDefault(oa, an)
	require.NoError(t, err)
	hist, err := history.NewStore(history.NewMemoryBackend())
	require.NoError(t, err)
	ctrl, err := turn.New(session.NewMemoryStore(), hist, router.New(models), models, turn.WithDefaultModel("GPT-4o (OpenAI)"))
	require.NoError(t, err)

	handler, err := New(ctrl, models)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, openai: oa}
}

func (ts *testServer) do(t *testing.T, method, path, user, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) createSession(t *testing.T, user string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", user, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return gjson.GetBytes(body, "id").String()
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body []byte) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())

	resp, body = ts.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestListModels(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/models", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	keys := gjson.GetBytes(body, "#.key").Array()
	require.Len(t, keys, 9)
	assert.Equal(t, "Gemini 1.5 Pro (Google)", keys[0].String())
	assert.Equal(t, "Perplexity Chat 70B (Perplexity)", keys[8].String())
	assert.False(t, gjson.GetBytes(body, "8.capabilities.streaming").Bool())
}

func TestPostMessage_StreamsFragments(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "ada", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := parseSSE(t, body)
	require.Len(t, events, 3)
	assert.Equal(t, EventFragment, events[0].name)
	assert.Equal(t, "Hi", gjson.Get(events[0].data, "text").String())
	assert.Equal(t, " there!", gjson.Get(events[1].data, "text").String())
	assert.Equal(t, EventDone, events[2].name)
	assert.Equal(t, "awaiting_user_input", gjson.Get(events[2].data, "phase").String())
	assert.Equal(t, "Hi there!", gjson.Get(events[2].data, "conversation.1.content").String())

	resp, body = ts.do(t, http.MethodGet, "/api/sessions/"+id, "ada", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, gjson.GetBytes(body, "conversation.#").Int())
}

func TestPostMessage_WithImage(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	payload, err := json.Marshal(map[string]any{
		"text":  "what is it",
		"image": map[string]string{"data": base64.StdEncoding.EncodeToString([]byte{0x89, 0x50}), "mime_type": "image/png"},
	})
	require.NoError(t, err)
	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "ada", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, ts.openai.requests, 1)
	require.NotNil(t, ts.openai.requests[0].Image)
	assert.Equal(t, []byte{0x89, 0x50}, []byte(ts.openai.requests[0].Image.Data))
}

func TestPostMessage_Validation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "ada", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "ada", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsAreScopedToUser(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	resp, _ := ts.do(t, http.MethodGet, "/api/sessions/"+id, "bob", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/sessions/does-not-exist", "ada", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSelectModelAndSettings(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	resp, body := ts.do(t, http.MethodPut, "/api/sessions/"+id+"/model", "ada", `{"key":"Claude 3.5 Sonnet (Anthropic)"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Claude 3.5 Sonnet (Anthropic)", gjson.GetBytes(body, "model").String())

	resp, _ = ts.do(t, http.MethodPut, "/api/sessions/"+id+"/model", "ada", `{"key":"Nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, "/api/sessions/"+id+"/settings", "ada", `{"personality":"analytical","streaming":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.InDelta(t, 0.3, gjson.GetBytes(body, "temperature").Float(), 1e-9)
	assert.False(t, gjson.GetBytes(body, "streaming").Bool())

	resp, _ = ts.do(t, http.MethodPut, "/api/sessions/"+id+"/settings", "ada", `{"temperature":3}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClearAndReset(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "ada", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodDelete, "/api/sessions/"+id+"/history", "ada", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, gjson.GetBytes(body, "conversation.#").Int())

	resp, body = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", "ada", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "awaiting_user_input", gjson.GetBytes(body, "phase").String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(session.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(turn.ErrNotIdle))
	assert.Equal(t, http.StatusConflict, statusFor(turn.ErrModelLocked))
	assert.Equal(t, http.StatusConflict, statusFor(turn.ErrConflict))
	assert.Equal(t, http.StatusBadRequest, statusFor(registry.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func TestWatchSession(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "ada")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "ada")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		var current sseEvent
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.data = strings.TrimPrefix(line, "data: ")
			case line == "" && current.name != "":
				events <- current
				current = sseEvent{}
			}
		}
	}()

	first := <-events
	require.Equal(t, EventState, first.name)
	assert.Equal(t, "awaiting_user_input", gjson.Get(first.data, "phase").String())

	resp2, _ := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", "ada", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var fragments []string
	var phases []string
	for ev := range events {
		switch ev.name {
		case EventFragment:
			fragments = append(fragments, gjson.Get(ev.data, "text").String())
		case EventState:
			phases = append(phases, gjson.Get(ev.data, "phase").String())
		}
		if len(phases) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"Hi", " there!"}, fragments)
	assert.Equal(t, []string{"user_message_recorded", "awaiting_user_input"}, phases)

	resp3, _ := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/events", "bob", "")
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}
