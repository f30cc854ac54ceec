package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/garden/pkg/slogx"
)

// Backend kinds accepted by Open.
const (
	KindNone   = "none"
	KindMemory = "memory"
	KindNATS   = "nats"
	KindRedis  = "redis"
	KindPebble = "pebble"
)

// BackendSpec selects and configures a backend.
type BackendSpec struct {
	Kind      string
	Bucket    string
	NATSURL   string
	RedisURL  string
	PebbleDir string
}

// Open builds the backend described by spec. The "none" kind, or an empty kind,
// returns a nil backend, which NewStore turns into a disabled store.
func Open(ctx context.Context, spec BackendSpec) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewMemoryBackend(), nil
	case KindNATS:
		if spec.Bucket == "" {
			return nil, fmt.Errorf("history: nats backend requires a bucket")
		}
		return orNil(OpenNATS(spec.NATSURL, spec.Bucket))
	case KindRedis:
		if spec.RedisURL == "" {
			return nil, fmt.Errorf("history: redis backend requires a url")
		}
		return orNil(OpenRedis(ctx, spec.RedisURL))
	case KindPebble:
		if spec.PebbleDir == "" {
			return nil, fmt.Errorf("history: pebble backend requires a directory")
		}
		return orNil(OpenPebble(spec.PebbleDir))
	default:
		return nil, fmt.Errorf("history: unknown backend %q", spec.Kind)
	}
}

// OpenOrDisable is Open for startup: when the backend cannot be opened the error is
// logged and a nil backend is returned, so the chat runs without persistence.
func OpenOrDisable(ctx context.Context, spec BackendSpec) Backend {
	b, err := Open(ctx, spec)
	if err != nil {
		slog.WarnContext(ctx, "history backend unavailable, history is disabled",
			slogx.LoggerName("history"),
			slog.String("backend", spec.Kind),
			slogx.Error(err),
		)
		return nil
	}
	return b
}

// orNil keeps a failed open from returning a typed nil inside a non-nil Backend.
func orNil[B Backend](b B, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
