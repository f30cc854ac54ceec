package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/pkg/uuidx"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix namespaces garden topics on a shared NATS server.
const SubjectPrefix = "garden.sessions."

// NATSBroker publishes JSON encoded events on core NATS subjects. Delivery is at most
// once; a watcher that connects late misses what was published before.
type NATSBroker[T any] struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic[T]]
}

func NATS[T any](client *nats.Conn) *NATSBroker[T] {
	return &NATSBroker[T]{
		client: client,
		topics: haxmap.New[string, *natsTopic[T]](),
	}
}

func (b *NATSBroker[T]) Topic(_ context.Context, id string) Topic[T] {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic[T] {
		return &natsTopic[T]{
			subject: subjectFor(id),
			client:  b.client,
		}
	})
	return top
}

// subjectFor keeps the topic id a single subject token.
func subjectFor(id string) string {
	return SubjectPrefix + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}

type natsTopic[T any] struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic[T]) Publish(_ context.Context, event T) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, data)
}

func (t *natsTopic[T]) Subscribe(ctx context.Context, handler Handler[T]) (Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	sub := &natsSubscription{id: uuidx.NewString(), done: make(chan struct{})}
	events := make(chan T, subscriptionBuffer)
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("failed to unmarshal event", slogx.LoggerName("broker"), slogx.Error(err))
			return
		}
		select {
		case events <- event:
		case <-sub.done:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	sub.sub = nsub

	go func() {
		for {
			select {
			case event := <-events:
				handler(ctx, event)
			case <-sub.done:
				return
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			}
		}
	}()
	return sub, nil
}

type natsSubscription struct {
	id   string
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.once.Do(func() {
		close(n.done)
		if err := n.sub.Unsubscribe(); err != nil && n.sub.IsValid() {
			slog.Error("failed to unsubscribe", slogx.LoggerName("broker"), slogx.Error(err), slog.String("subscription", n.id))
		}
	})
}
