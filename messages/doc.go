// Package messages holds the provider-neutral message model used throughout garden.
//
// A Message pairs a Role with Content. Content is a tagged variant: either plain text
// or an ordered list of parts (text, inline image bytes, inline audio bytes). Adapters
// translate this model to each provider's wire format; the history store persists it
// as a JSON document.
//
// Key concepts:
//   - Role: User or Assistant
//   - Content: plain text or []Part, with a JSON codec that keeps the two shapes apart
//   - Part: TextPart, ImagePart, AudioPart
//   - Conversation: the ordered list of messages for a single history id
//
// Example usage:
//
//	msg := messages.NewUserMessage(messages.PartsContent(
//	    messages.Text("what is in this picture?"),
//	    messages.Image(jpegBytes, "image/jpeg"),
//	))
//	conv = conv.Append(msg)
package messages
