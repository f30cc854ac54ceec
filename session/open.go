package session

import (
	"context"
	"fmt"
	"strings"
)

// Open returns the store for kind: "memory" (the default) or "redis".
func Open(ctx context.Context, kind, redisURL string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if redisURL == "" {
			return nil, fmt.Errorf("session: redis store requires a url")
		}
		store, err := OpenRedis(ctx, redisURL, DefaultTTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("session: unknown store %q", kind)
	}
}
