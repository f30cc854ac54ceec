package provider

import (
	"iter"
	"strings"
	"sync/atomic"
)

// Stream is a lazy, finite, single-use sequence of text fragments.
// Iteration stops after the first error.
type Stream struct {
	seq      iter.Seq2[string, error]
	consumed atomic.Bool
}

// NewStream wraps seq. The sequence is pulled only when the stream is iterated.
func NewStream(seq iter.Seq2[string, error]) *Stream {
	return &Stream{seq: seq}
}

// SingleFragment is the stream used by adapters without native streaming.
func SingleFragment(text string) *Stream {
	return NewStream(func(yield func(string, error) bool) {
		yield(text, nil)
	})
}

// Failed returns a stream that yields err and nothing else.
func Failed(err error) *Stream {
	return NewStream(func(yield func(string, error) bool) {
		yield("", err)
	})
}

// Fragments returns the iterator over the stream. Only the first call iterates
// the underlying sequence.
func (s *Stream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}
		for fragment, err := range s.seq {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// Map returns a stream that passes every error through fn.
func (s *Stream) Map(fn func(error) error) *Stream {
	return NewStream(func(yield func(string, error) bool) {
		for fragment, err := range s.Fragments() {
			if err != nil {
				yield("", fn(err))
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	})
}

// Drain consumes the stream, calling onFragment for every fragment before the next one
// is requested. It returns the concatenated text and, on failure, the partial text
// received so far together with the error.
func Drain(s *Stream, onFragment func(string)) (string, error) {
	var sb strings.Builder
	for fragment, err := range s.Fragments() {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}
	return sb.String(), nil
}
