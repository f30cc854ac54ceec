package broker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/garden/pkg/natsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Kind string `json:"kind"`
	Seq  int    `json:"seq"`
}

type brokerFactory func(t *testing.T) Broker[testEvent]

type recorder struct {
	mu     sync.Mutex
	events []testEvent
}

func (r *recorder) handle(_ context.Context, event testEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []testEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]testEvent(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []testEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func runAcceptanceTests(t *testing.T, factory brokerFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, factory brokerFactory)
	}{
		{"creates unique topics", testUniqueTopics},
		{"reuses existing topics", testReuseTopics},
		{"publishes to all subscribers in order", testPublishToAllSubscribers},
		{"topics are isolated", testTopicIsolation},
		{"stops delivering after unsubscribe", testUnsubscribe},
		{"stops delivering after context cancellation", testContextCancellation},
		{"requires a handler", testHandlerRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func TestBrokerImplementations(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		runAcceptanceTests(t, func(*testing.T) Broker[testEvent] {
			return Local[testEvent]()
		})
	})

	t.Run("NATS", func(t *testing.T) {
		nc, err := natsx.Connect(os.Getenv("NATS_URL"))
		if err != nil {
			t.Skipf("nats not reachable: %v", err)
		}
		t.Cleanup(nc.Close)
		runAcceptanceTests(t, func(*testing.T) Broker[testEvent] {
			return NATS[testEvent](nc)
		})
	})
}

// topicName keeps parallel runs against a shared NATS server apart.
func topicName(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func testUniqueTopics(t *testing.T, factory brokerFactory) {
	b := factory(t)
	ctx := context.Background()
	assert.NotSame(t, b.Topic(ctx, "a"), b.Topic(ctx, "b"))
}

func testReuseTopics(t *testing.T, factory brokerFactory) {
	b := factory(t)
	ctx := context.Background()
	assert.Same(t, b.Topic(ctx, "a"), b.Topic(ctx, "a"))
}

func testPublishToAllSubscribers(t *testing.T, factory brokerFactory) {
	b := factory(t)
	ctx := context.Background()
	topic := b.Topic(ctx, topicName("fanout"))

	var r1, r2 recorder
	sub1, err := topic.Subscribe(ctx, r1.handle)
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	sub2, err := topic.Subscribe(ctx, r2.handle)
	require.NoError(t, err)
	defer sub2.Unsubscribe()
	assert.NotEqual(t, sub1.ID(), sub2.ID())

	for i := range 5 {
		require.NoError(t, topic.Publish(ctx, testEvent{Kind: "fragment", Seq: i}))
	}

	for _, r := range []*recorder{&r1, &r2} {
		got := r.waitFor(t, 5)
		require.Len(t, got, 5)
		for i, ev := range got {
			assert.Equal(t, i, ev.Seq)
			assert.Equal(t, "fragment", ev.Kind)
		}
	}
}

func testTopicIsolation(t *testing.T, factory brokerFactory) {
	b := factory(t)
	ctx := context.Background()
	first := b.Topic(ctx, topicName("first"))
	second := b.Topic(ctx, topicName("second"))

	var r1, r2 recorder
	sub1, err := first.Subscribe(ctx, r1.handle)
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	sub2, err := second.Subscribe(ctx, r2.handle)
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	require.NoError(t, first.Publish(ctx, testEvent{Kind: "state", Seq: 1}))
	require.NoError(t, second.Publish(ctx, testEvent{Kind: "state", Seq: 2}))

	assert.Equal(t, []testEvent{{Kind: "state", Seq: 1}}, r1.waitFor(t, 1))
	assert.Equal(t, []testEvent{{Kind: "state", Seq: 2}}, r2.waitFor(t, 1))
}

func testUnsubscribe(t *testing.T, factory brokerFactory) {
	b := factory(t)
	ctx := context.Background()
	topic := b.Topic(ctx, topicName("unsub"))

	var r recorder
	sub, err := topic.Subscribe(ctx, r.handle)
	require.NoError(t, err)
	require.NoError(t, topic.Publish(ctx, testEvent{Seq: 1}))
	r.waitFor(t, 1)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, topic.Publish(ctx, testEvent{Seq: 2}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, r.snapshot(), 1)
}

func testContextCancellation(t *testing.T, factory brokerFactory) {
	b := factory(t)
	topic := b.Topic(context.Background(), topicName("cancel"))

	ctx, cancel := context.WithCancel(context.Background())
	var r recorder
	sub, err := topic.Subscribe(ctx, r.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, topic.Publish(context.Background(), testEvent{Seq: 1}))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.snapshot())
}

func testHandlerRequired(t *testing.T, factory brokerFactory) {
	b := factory(t)
	_, err := b.Topic(context.Background(), "nil-handler").Subscribe(context.Background(), nil)
	require.ErrorIs(t, err, ErrHandlerRequired)
}

func TestLocal_DropsSlowSubscribers(t *testing.T) {
	b := Local[testEvent]().WithSlowSubscriberTimeout(5 * time.Millisecond)
	ctx := context.Background()
	topic := b.Topic(ctx, "slow")

	block := make(chan struct{})
	defer close(block)
	var handled sync.WaitGroup
	handled.Add(1)
	var once sync.Once
	sub, err := topic.Subscribe(ctx, func(context.Context, testEvent) {
		once.Do(handled.Done)
		<-block
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, topic.Publish(ctx, testEvent{Seq: 0}))
	handled.Wait()
	for i := 1; i <= subscriptionBuffer+1; i++ {
		require.NoError(t, topic.Publish(ctx, testEvent{Seq: i}))
	}
	assert.Equal(t, uintptr(0), topicSubscribers(b, "slow"))
}

func topicSubscribers(b *LocalBroker[testEvent], id string) uintptr {
	top, ok := b.topics.Get(id)
	if !ok {
		return 0
	}
	return top.subscriptions.Len()
}

func TestLocal_PublishHonoursContext(t *testing.T) {
	b := Local[testEvent]()
	topic := b.Topic(context.Background(), "ctx")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, topic.Publish(ctx, testEvent{}), context.Canceled)
}
