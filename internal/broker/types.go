// Package broker fans out session events to watchers. A topic carries the events of
// one session; publishers never block on slow subscribers for long.
//
// Two implementations share the same contract:
//   - Local: in-process, for a single garden serve instance
//   - NATS: core NATS subjects, for several instances behind a load balancer
package broker

import (
	"context"
	"errors"
)

// ErrHandlerRequired is returned when subscribing without a handler.
var ErrHandlerRequired = errors.New("broker: handler is required")

type Broker[T any] interface {
	Topic(ctx context.Context, id string) Topic[T]
}

type Topic[T any] interface {
	Publish(ctx context.Context, event T) error
	Subscribe(ctx context.Context, handler Handler[T]) (Subscription, error)
}

// Handler receives events in publish order, one at a time.
type Handler[T any] func(ctx context.Context, event T)

type Subscription interface {
	ID() string
	Unsubscribe()
}
