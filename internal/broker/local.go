package broker

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/garden/pkg/uuidx"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	subscriptionBuffer           = 64
)

type LocalBroker[T any] struct {
	topics                *haxmap.Map[string, *localTopic[T]]
	slowSubscriberTimeout time.Duration
}

func Local[T any]() *LocalBroker[T] {
	return &LocalBroker[T]{
		topics:                haxmap.New[string, *localTopic[T]](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

// WithSlowSubscriberTimeout sets how long a publish waits on a full subscriber before
// dropping it.
func (b *LocalBroker[T]) WithSlowSubscriberTimeout(timeout time.Duration) *LocalBroker[T] {
	b.slowSubscriberTimeout = timeout
	return b
}

func (b *LocalBroker[T]) Topic(_ context.Context, id string) Topic[T] {
	topic, _ := b.topics.GetOrCompute(id, func() *localTopic[T] {
		return &localTopic[T]{
			id:                    id,
			subscriptions:         haxmap.New[string, *localSubscription[T]](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return topic
}

type localTopic[T any] struct {
	id                    string
	subscriptions         *haxmap.Map[string, *localSubscription[T]]
	slowSubscriberTimeout time.Duration
}

func (t *localTopic[T]) Publish(ctx context.Context, event T) error {
	t.subscriptions.ForEach(func(_ string, sub *localSubscription[T]) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sub.done:
			return true
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		default:
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.done:
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case sub.channel <- event:
		case <-time.After(t.slowSubscriberTimeout):
			sub.Unsubscribe()
		}
		return true
	})
	return ctx.Err()
}

func (t *localTopic[T]) Subscribe(ctx context.Context, handler Handler[T]) (Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	id := uuidx.NewString()
	sub := &localSubscription[T]{
		id:      id,
		ctx:     ctx,
		channel: make(chan T, subscriptionBuffer),
		done:    make(chan struct{}),
		onClose: func() { t.subscriptions.Del(id) },
		handler: handler,
	}
	t.subscriptions.Set(id, sub)
	go sub.forward()
	return sub, nil
}

type localSubscription[T any] struct {
	id        string
	ctx       context.Context
	channel   chan T
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	handler   Handler[T]
}

func (s *localSubscription[T]) ID() string {
	return s.id
}

func (s *localSubscription[T]) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.onClose()
		close(s.done)
	})
}

func (s *localSubscription[T]) forward() {
	for {
		select {
		case event := <-s.channel:
			s.handler(s.ctx, event)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}
