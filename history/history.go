// Package history persists conversations as whole JSON documents keyed by a history
// id derived from the active model key.
//
// The Store never returns storage errors. A backend that is unreachable or not
// configured degrades every operation to a logged no-op or an empty result, so a chat
// keeps working without persistence.
//
// Keys have the form
//
//	chat_histories/[<namespace>/]<history id>.json
//
// where namespace is an optional per-user prefix, the unpadded base64url encoding of
// the user name.
package history

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/casualjim/garden/internal/metrics"
	"github.com/casualjim/garden/messages"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
)

// KeyPrefix is prepended to every document key.
const KeyPrefix = "chat_histories/"

// ErrNotFound is returned by backends when a key holds no document.
var ErrNotFound = errors.New("history document not found")

// Backend is a flat document store.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Put(ctx context.Context, key string, doc []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete succeeds when key is absent.
	Delete(ctx context.Context, key string) error
	Close() error
}

// IDFor derives the history id for a model key: whitespace becomes "_", slashes
// become "-" and any other byte outside [A-Za-z0-9._-] is written as "=XX" in
// uppercase hex.
func IDFor(modelKey string) string {
	var sb strings.Builder
	for _, r := range modelKey {
		switch {
		case unicode.IsSpace(r):
			sb.WriteByte('_')
		case r == '/' || r == '\\':
			sb.WriteByte('-')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)),
			r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			for _, b := range []byte(string(r)) {
				fmt.Fprintf(&sb, "=%02X", b)
			}
		}
	}
	return sb.String()
}

// namespaceFor maps a user name onto a key segment. Distinct users never share one.
func namespaceFor(user string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(user))
}

// Store reads and writes conversations through a Backend.
type Store struct {
	backend   Backend
	namespace string
}

// WithNamespace scopes keys to a user or tenant.
var WithNamespace = opts.ForName[Store, string]("namespace")

// NewStore creates a store over backend. A nil backend yields a disabled store.
func NewStore(backend Backend, options ...opts.Option[Store]) (*Store, error) {
	s := &Store{backend: backend}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	s.namespace = namespaceFor(s.namespace)
	return s, nil
}

// Disabled returns a store that persists nothing.
func Disabled() *Store {
	return &Store{}
}

// Enabled reports whether the store has a backend.
func (s *Store) Enabled() bool {
	return s != nil && s.backend != nil
}

// ForUser returns a copy of the store scoped to user.
func (s *Store) ForUser(user string) *Store {
	if !s.Enabled() {
		return Disabled()
	}
	return &Store{backend: s.backend, namespace: namespaceFor(user)}
}

// Key returns the backend key for a history id.
func (s *Store) Key(id string) string {
	if s.namespace == "" {
		return KeyPrefix + id + ".json"
	}
	return KeyPrefix + s.namespace + "/" + id + ".json"
}

// Save replaces the stored document for id. Empty conversations are not written.
func (s *Store) Save(ctx context.Context, id string, conv messages.Conversation) {
	if !s.Enabled() || len(conv) == 0 {
		return
	}
	doc, err := json.Marshal(conv)
	if err != nil {
		s.log(ctx, "encode history", id, err)
		return
	}
	err = s.backend.Put(ctx, s.Key(id), doc)
	metrics.ObserveHistory(s.backend.Name(), "save", err)
	if err != nil {
		s.log(ctx, "save history", id, err)
	}
}

// Load returns the stored conversation for id, or an empty one when nothing usable
// is stored.
func (s *Store) Load(ctx context.Context, id string) messages.Conversation {
	if !s.Enabled() {
		return messages.Conversation{}
	}
	doc, err := s.backend.Get(ctx, s.Key(id))
	if errors.Is(err, ErrNotFound) {
		metrics.ObserveHistory(s.backend.Name(), "load", nil)
		return messages.Conversation{}
	}
	metrics.ObserveHistory(s.backend.Name(), "load", err)
	if err != nil {
		s.log(ctx, "load history", id, err)
		return messages.Conversation{}
	}

	var conv messages.Conversation
	if err := json.Unmarshal(doc, &conv); err != nil {
		s.log(ctx, "decode history", id, err)
		return messages.Conversation{}
	}
	if conv == nil {
		conv = messages.Conversation{}
	}
	return conv
}

// Delete removes the document for id. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) {
	if !s.Enabled() {
		return
	}
	err := s.backend.Delete(ctx, s.Key(id))
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	metrics.ObserveHistory(s.backend.Name(), "delete", err)
	if err != nil {
		s.log(ctx, "delete history", id, err)
	}
}

func (s *Store) log(ctx context.Context, msg, id string, err error) {
	slog.WarnContext(ctx, msg,
		slogx.LoggerName("history"),
		slog.String("backend", s.backend.Name()),
		slogx.HistoryID(id),
		slogx.Error(err),
	)
}
