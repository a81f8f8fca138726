// ABOUTME: Message and Conversation data model shared by the store, handlers and transports
// ABOUTME: Snapshots returned to callers are deep copies, never views into live state

package conversation

import (
	"maps"
	"slices"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleClient    Role = "client"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Conversation is a snapshot of a conversation and its messages.
type Conversation struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// Summary describes a conversation without its messages.
type Summary struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Summary returns c without its messages.
func (c Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Owner:        c.Owner,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Context = CloneContext(m.Context)
	return m
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	c.Messages = msgs
	return c
}

// CloneContext deep copies JSON-shaped context values. Nested maps and
// slices are copied; other values are shared.
func CloneContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := maps.Clone(ctx)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneContext(t)
	case []any:
		s := slices.Clone(t)
		for i := range s {
			s[i] = cloneValue(s[i])
		}
		return s
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}
