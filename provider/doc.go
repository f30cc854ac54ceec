// Package provider defines the contract every LLM backend adapter implements, along with
// the per-turn request shape, the error taxonomy and the stream handle used to deliver
// incremental replies.
//
// Design decisions:
//   - One interface: adapters expose Generate and GenerateStream, nothing else
//   - Fail before the wire: missing credentials and unsupported attachments are
//     reported without touching the network
//   - No raw transport errors: every upstream failure is wrapped in *ProviderError
//   - Single-use streams: a Stream can be iterated once, a second pass yields
//     ErrStreamConsumed
//
// Key concepts:
//   - Provider: the adapter interface
//   - TurnRequest: everything an adapter needs to produce one reply
//   - Capabilities: whether a model streams natively and which inputs it accepts
//   - Stream: a lazy, finite sequence of text fragments
//
// Example usage:
//
//	strm, err := adapter.GenerateStream(ctx, &provider.TurnRequest{
//	    Prompt:      "hello",
//	    Model:       "gpt-4o",
//	    Temperature: 0.7,
//	    Streaming:   true,
//	})
//	if err != nil {
//	    return err
//	}
//	text, err := provider.Drain(strm, func(fragment string) { fmt.Print(fragment) })
package provider
