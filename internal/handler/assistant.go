// ABOUTME: Rule-based virtual assistant handler with a name, capabilities and conversation memory
// ABOUTME: Memory is derived from the conversation history, so eviction forgets it automatically

package handler

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
)

// Default assistant identity.
const DefaultAssistantName = "Engineering Assistant"

// DefaultCapabilities are advertised when none are configured.
var DefaultCapabilities = []string{"Code generation", "Code review", "Technical documentation"}

const rememberPrefix = "remember "

// Assistant answers a small command vocabulary:
//
//	remember <fact>   store a fact for this conversation
//	recall            list remembered facts
//	capabilities      list what the assistant can do
//
// Anything else gets an introduction.
type Assistant struct {
	Name         string
	Capabilities []string
}

// NewAssistant creates an Assistant, filling in defaults for empty values.
func NewAssistant(name string, capabilities []string) *Assistant {
	if name == "" {
		name = DefaultAssistantName
	}
	if len(capabilities) == 0 {
		capabilities = DefaultCapabilities
	}
	return &Assistant{Name: name, Capabilities: slices.Clone(capabilities)}
}

// Handle implements Handler.
func (a *Assistant) Handle(ctx context.Context, req Request) (conversation.Message, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Message{}, err
	}

	text := strings.TrimSpace(req.Message.Content)
	lower := strings.ToLower(text)

	var content string
	switch {
	case strings.HasPrefix(lower, rememberPrefix):
		fact := strings.TrimSpace(text[len(rememberPrefix):])
		if fact == "" {
			content = "What should I remember?"
		} else {
			content = fmt.Sprintf("Noted. I'll remember: %s", fact)
		}
	case lower == "recall":
		facts := rememberedFacts(req.History)
		if len(facts) == 0 {
			content = "I haven't been asked to remember anything yet."
		} else {
			content = "Here's what I remember:\n- " + strings.Join(facts, "\n- ")
		}
	case lower == "capabilities":
		content = "I can help with: " + strings.Join(a.Capabilities, ", ") + "."
	default:
		content = fmt.Sprintf("I'm %s, a virtual assistant. I received your message (%d earlier in this conversation). Ask me about: %s.",
			a.Name, len(req.History), strings.Join(a.Capabilities, ", "))
	}

	return conversation.Message{
		Content: content,
		Context: map[string]any{"assistant": a.Name},
	}, nil
}

func rememberedFacts(history []conversation.Message) []string {
	var facts []string
	for _, m := range history {
		if m.Role != conversation.RoleClient {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if !strings.HasPrefix(strings.ToLower(text), rememberPrefix) {
			continue
		}
		if fact := strings.TrimSpace(text[len(rememberPrefix):]); fact != "" {
			facts = append(facts, fact)
		}
	}
	return facts
}
