package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/garden/messages"
	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	calls int
}

func (f *failingBackend) Name() string { return "failing" }
func (f *failingBackend) Put(context.Context, string, []byte) error {
	f.calls++
	return errors.New("unreachable")
}

func (f *failingBackend) Get(context.Context, string) ([]byte, error) {
	f.calls++
	return nil, errors.New("unreachable")
}

func (f *failingBackend) Delete(context.Context, string) error {
	f.calls++
	return errors.New("unreachable")
}
func (f *failingBackend) Close() error { return nil }

func sampleConversation() messages.Conversation {
	return messages.Conversation{
		messages.NewUserMessage(messages.PartsContent(
			messages.TextPart{Text: "what is this?"},
			messages.ImagePart{Data: strfmt.Base64{0x89, 0x50, 0x4e, 0x47}, MIMEType: "image/png"},
		)),
		messages.NewAssistantMessage("A tiny PNG header."),
		messages.NewUserMessage(messages.TextContent("thanks")),
	}
}

func TestIDFor(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"Gemini 1.5 Pro", "Gemini_1.5_Pro"},
		{"GPT-4o", "GPT-4o"},
		{"a/b\\c", "a-b-c"},
		{"Perplexity Online 70B", "Perplexity_Online_70B"},
		{"Claude (3.5)!", "Claude_=283.5=29=21"},
		{"a=b", "a=3Db"},
		{"é", "=C3=A9"},
		{"", ""},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			assert.Equal(t, tc.want, IDFor(tc.key))
		})
	}
	assert.Equal(t, IDFor("GPT-4 Turbo"), IDFor("GPT-4 Turbo"))
	assert.NotEqual(t, IDFor("Claude (3.5)!"), IDFor("Claude 3.5"))
	assert.NotEqual(t, IDFor("a=3Db"), IDFor("a=b"))
}

func TestStore_Key(t *testing.T) {
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)
	assert.Equal(t, "chat_histories/GPT-4o.json", s.Key("GPT-4o"))

	scoped := s.ForUser("ada@example.com")
	assert.Equal(t, "chat_histories/YWRhQGV4YW1wbGUuY29t/GPT-4o.json", scoped.Key("GPT-4o"))

	ns, err := NewStore(NewMemoryBackend(), WithNamespace("team a"))
	require.NoError(t, err)
	assert.Equal(t, "chat_histories/dGVhbSBh/x.json", ns.Key("x"))
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)

	conv := sampleConversation()
	s.Save(ctx, "GPT-4o", conv)

	got := s.Load(ctx, "GPT-4o")
	assert.Equal(t, conv, got)
}

func TestStore_LoadAbsentIsEmpty(t *testing.T) {
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)

	got := s.Load(context.Background(), "nobody")
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)

	s.Save(ctx, "k", sampleConversation())
	s.Delete(ctx, "k")
	s.Delete(ctx, "k")
	assert.Empty(t, s.Load(ctx, "k"))
}

func TestStore_EmptySaveIsSkipped(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s, err := NewStore(backend)
	require.NoError(t, err)

	s.Save(ctx, "k", sampleConversation())
	s.Save(ctx, "k", messages.Conversation{})

	assert.Len(t, s.Load(ctx, "k"), 3)
}

func TestStore_UndecodableDocumentIsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s, err := NewStore(backend)
	require.NoError(t, err)

	require.NoError(t, backend.Put(ctx, s.Key("bad"), []byte(`[{"role":"system","content":"x"}]`)))
	assert.Empty(t, s.Load(ctx, "bad"))
}

func TestStore_Disabled(t *testing.T) {
	ctx := context.Background()
	s := Disabled()
	assert.False(t, s.Enabled())

	s.Save(ctx, "k", sampleConversation())
	assert.Empty(t, s.Load(ctx, "k"))
	s.Delete(ctx, "k")
	assert.False(t, s.ForUser("u").Enabled())

	nilBackend, err := NewStore(nil)
	require.NoError(t, err)
	assert.False(t, nilBackend.Enabled())
}

func TestStore_FailingBackendDegrades(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{}
	s, err := NewStore(backend)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Save(ctx, "k", sampleConversation())
		s.Delete(ctx, "k")
	})
	got := s.Load(ctx, "k")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 3, backend.calls)
}

func TestStore_ConcurrentSavesToDifferentKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv := messages.Conversation{
				messages.NewUserMessage(messages.TextContent(fmt.Sprintf("hello %d", i))),
			}
			s.Save(ctx, fmt.Sprintf("model-%d", i), conv)
		}()
	}
	wg.Wait()

	for i := range 16 {
		got := s.Load(ctx, fmt.Sprintf("model-%d", i))
		require.Len(t, got, 1)
		assert.Equal(t, fmt.Sprintf("hello %d", i), got[0].Content.PlainText())
	}
}

func TestStore_UserNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)

	ada, bob := s.ForUser("ada"), s.ForUser("bob")
	ada.Save(ctx, "GPT-4o", sampleConversation())

	assert.Len(t, ada.Load(ctx, "GPT-4o"), 3)
	assert.Empty(t, bob.Load(ctx, "GPT-4o"))
}

func TestStore_DistinctUsersNeverShareKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(NewMemoryBackend())
	require.NoError(t, err)

	pairs := [][2]string{
		{"ana@example.com", "anaexample.com"},
		{"josé", "jos"},
		{"张三", "李四"},
		{"a/b", "a-b"},
	}
	for _, pair := range pairs {
		t.Run(pair[0]+"|"+pair[1], func(t *testing.T) {
			first, second := s.ForUser(pair[0]), s.ForUser(pair[1])
			require.NotEqual(t, first.Key("GPT-4o"), second.Key("GPT-4o"))
			assert.NotEqual(t, s.Key("GPT-4o"), first.Key("GPT-4o"))
			assert.NotEqual(t, s.Key("GPT-4o"), second.Key("GPT-4o"))

			first.Save(ctx, "GPT-4o", sampleConversation())
			t.Cleanup(func() { first.Delete(ctx, "GPT-4o") })

			assert.Len(t, first.Load(ctx, "GPT-4o"), 3)
			assert.Empty(t, second.Load(ctx, "GPT-4o"))
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, BackendSpec{})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = Open(ctx, BackendSpec{Kind: "Memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())

	_, err = Open(ctx, BackendSpec{Kind: "nats"})
	require.Error(t, err)
	_, err = Open(ctx, BackendSpec{Kind: "redis"})
	require.Error(t, err)
	_, err = Open(ctx, BackendSpec{Kind: "pebble"})
	require.Error(t, err)
	_, err = Open(ctx, BackendSpec{Kind: "gcs"})
	require.ErrorContains(t, err, "unknown backend")
}

func TestOpenOrDisable_UnreachableBackendDisablesHistory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := OpenOrDisable(ctx, BackendSpec{Kind: KindRedis, RedisURL: "redis://127.0.0.1:1"})
	require.Nil(t, b)

	s, err := NewStore(b)
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	assert.NotPanics(t, func() {
		s.ForUser("ada").Save(ctx, "GPT-4o", sampleConversation())
	})
	assert.Empty(t, s.ForUser("ada").Load(ctx, "GPT-4o"))

	assert.Nil(t, OpenOrDisable(ctx, BackendSpec{Kind: "gcs"}))
	assert.Equal(t, "memory", OpenOrDisable(ctx, BackendSpec{Kind: KindMemory}).Name())
}
