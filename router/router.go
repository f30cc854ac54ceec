// Package router resolves a model key to its adapter and dispatches a turn, choosing
// between a native stream, a single-fragment fallback and a plain completion.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/garden/internal/metrics"
	"github.com/casualjim/garden/pkg/slogx"
	"github.com/casualjim/garden/provider"
	"github.com/casualjim/garden/registry"
)

// Kind classifies a RouterError.
type Kind int

const (
	UnknownModel Kind = iota + 1
	Upstream
)

func (k Kind) String() string {
	switch k {
	case UnknownModel:
		return "unknown_model"
	case Upstream:
		return "upstream"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RouterError is the only error Route returns. Its message is fit to show the user.
type RouterError struct {
	Kind Kind
	// Key is the display key that was routed.
	Key string
	// Model is the backend model name, empty when the key was unknown.
	Model string
	Cause error
}

func (e *RouterError) Error() string {
	if e.Kind == UnknownModel {
		return fmt.Sprintf("Error: Model '%s' not found in supported models.", e.Key)
	}

	var (
		cfgErr *provider.ConfigurationError
		prvErr *provider.ProviderError
	)
	switch {
	case errors.As(e.Cause, &cfgErr):
		return "Error: " + cfgErr.Error()
	case errors.As(e.Cause, &prvErr) && e.Model != "":
		return fmt.Sprintf("Error with %s API (%s): %v", prvErr.Adapter.DisplayName(), e.Model, prvErr.Cause)
	default:
		return fmt.Sprintf("Error generating response with %s: %v", e.Key, e.Cause)
	}
}

func (e *RouterError) Unwrap() error {
	return e.Cause
}

// Reply is either a stream of fragments or a completed text.
type Reply struct {
	stream *provider.Stream
	text   string
}

// Stream returns the fragment stream when the reply is streamed.
func (r Reply) Stream() (*provider.Stream, bool) {
	return r.stream, r.stream != nil
}

// Text returns the completed text when the reply is not streamed.
func (r Reply) Text() (string, bool) {
	return r.text, r.stream == nil
}

// Models is the part of the registry the router needs.
type Models interface {
	Lookup(key string) (registry.ModelDescriptor, error)
	Provider(id provider.AdapterID) (provider.Provider, error)
}

type Router struct {
	models Models
}

func New(models Models) *Router {
	return &Router{models: models}
}

// Route stamps req with the descriptor's backend model and capabilities and dispatches it.
// No retries happen here.
func (r *Router) Route(ctx context.Context, key string, req *provider.TurnRequest) (Reply, error) {
	desc, err := r.models.Lookup(key)
	if err != nil {
		return Reply{}, &RouterError{Kind: UnknownModel, Key: key, Cause: err}
	}
	adapter, err := r.models.Provider(desc.Adapter)
	if err != nil {
		return Reply{}, r.upstream(ctx, key, "", err)
	}

	req.Model = desc.BackendModel
	req.Capabilities = desc.Capabilities

	started := time.Now()
	adapterName := string(desc.Adapter)

	switch {
	case req.Streaming && desc.Capabilities.Streaming:
		strm, err := adapter.GenerateStream(ctx, req)
		if err != nil {
			metrics.ObserveProvider(adapterName, "stream", started, err)
			return Reply{}, r.upstream(ctx, key, desc.BackendModel, err)
		}
		return Reply{stream: r.observe(ctx, desc, started, strm)}, nil

	case req.Streaming:
		text, err := adapter.Generate(ctx, req)
		metrics.ObserveProvider(adapterName, "generate", started, err)
		if err != nil {
			return Reply{}, r.upstream(ctx, key, desc.BackendModel, err)
		}
		return Reply{stream: provider.SingleFragment(text)}, nil

	default:
		text, err := adapter.Generate(ctx, req)
		metrics.ObserveProvider(adapterName, "generate", started, err)
		if err != nil {
			return Reply{}, r.upstream(ctx, key, desc.BackendModel, err)
		}
		return Reply{text: text}, nil
	}
}

func (r *Router) upstream(ctx context.Context, key, model string, err error) *RouterError {
	slog.ErrorContext(ctx, "provider call failed", slogx.LoggerName("router"), slogx.Model(key), slogx.Error(err))
	return &RouterError{Kind: Upstream, Key: key, Model: model, Cause: err}
}

// observe converts mid-stream failures to *RouterError and records the call once the
// stream ends.
func (r *Router) observe(ctx context.Context, desc registry.ModelDescriptor, started time.Time, strm *provider.Stream) *provider.Stream {
	adapter := string(desc.Adapter)
	return provider.NewStream(func(yield func(string, error) bool) {
		var failure error
		defer func() { metrics.ObserveProvider(adapter, "stream", started, failure) }()

		for fragment, err := range strm.Fragments() {
			if err != nil {
				failure = err
				yield("", r.upstream(ctx, desc.DisplayKey, desc.BackendModel, err))
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	})
}
