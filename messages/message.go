package messages

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Role identifies the author of a message.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == User || r == Assistant
}

// Message is a single conversation entry. Messages are values: once appended to a
// conversation they are never changed.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// NewUserMessage creates a user message with the given content.
func NewUserMessage(content Content) Message {
	return Message{Role: User, Content: content}
}

// NewAssistantMessage creates an assistant message with plain text content.
func NewAssistantMessage(text string) Message {
	return Message{Role: Assistant, Content: TextContent(text)}
}

func (m *Message) UnmarshalJSON(input []byte) error {
	role := Role(gjson.GetBytes(input, "role").String())
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	var content Content
	if raw := gjson.GetBytes(input, "content"); raw.Exists() {
		if err := content.UnmarshalJSON([]byte(raw.Raw)); err != nil {
			return err
		}
	}
	m.Role, m.Content = role, content
	return nil
}

// Conversation is the ordered list of messages bound to one history id.
type Conversation []Message

// Append returns a new conversation with msg added at the end.
// The receiver is left untouched.
func (c Conversation) Append(msg Message) Conversation {
	out := make(Conversation, len(c), len(c)+1)
	copy(out, c)
	return append(out, msg)
}

// Last returns the final message.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// Prior returns every message except the last one.
func (c Conversation) Prior() Conversation {
	if len(c) == 0 {
		return Conversation{}
	}
	return c[:len(c)-1 : len(c)-1]
}

// EndsWithUser reports whether the last message was written by the user.
func (c Conversation) EndsWithUser() bool {
	last, ok := c.Last()
	return ok && last.Role == User
}

// MarshalJSON writes an empty conversation as [] rather than null.
func (c Conversation) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte(`[]`), nil
	}
	return json.Marshal([]Message(c))
}
