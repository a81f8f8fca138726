// ABOUTME: In-memory conversation registry with per-conversation locking
// ABOUTME: Appends are all-or-nothing and serialized per conversation; unrelated conversations never contend

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/cmap"
)

var (
	// ErrNotFound is returned for unknown or evicted conversations.
	ErrNotFound = errors.New("conversation not found")
	// ErrConversationFull is returned when an append would exceed the
	// configured message cap.
	ErrConversationFull = errors.New("conversation is full")
)

type entry struct {
	mu      sync.RWMutex
	conv    Conversation
	evicted bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamps and idle checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxMessages caps the number of messages per conversation. Zero means
// unbounded.
func WithMaxMessages(n int) Option {
	return func(s *Store) { s.maxMessages = n }
}

// WithBroadcaster publishes appended messages and evictions to b.
func WithBroadcaster(b *EventBroadcaster) Option {
	return func(s *Store) { s.events = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store holds every live conversation.
type Store struct {
	convs       *cmap.Map[*entry]
	now         func() time.Time
	maxMessages int
	events      *EventBroadcaster
	logger      *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		convs:  cmap.New[*entry](),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation")
	return s
}

// Create allocates a new empty conversation owned by owner.
func (s *Store) Create(owner string) Conversation {
	now := s.now()
	e := &entry{conv: Conversation{
		ID:        uuid.New().String(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}}
	s.convs.Set(e.conv.ID, e)

	s.logger.Debug("created conversation", "conversation_id", e.conv.ID, "owner", owner)
	return e.conv.Clone()
}

// Append adds msgs to the conversation in order. Either every message is
// stored or none is. Empty IDs and zero timestamps are filled in, and the
// stored messages are returned.
func (s *Store) Append(id string, msgs ...Message) ([]Message, error) {
	e, ok := s.convs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.maxMessages > 0 && len(e.conv.Messages)+len(msgs) > s.maxMessages {
		return nil, fmt.Errorf("%w: %s has %d of %d messages", ErrConversationFull, id, len(e.conv.Messages), s.maxMessages)
	}
	if len(msgs) == 0 {
		return []Message{}, nil
	}

	now := s.now()
	stored := make([]Message, len(msgs))
	for i, m := range msgs {
		m = m.Clone()
		if m.ID == "" {
			m.ID = ulid.Make().String()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		stored[i] = m
	}

	e.conv.Messages = append(e.conv.Messages, stored...)
	e.conv.UpdatedAt = now

	out := make([]Message, len(stored))
	for i, m := range stored {
		out[i] = m.Clone()
		if s.events != nil {
			ev := m.Clone()
			s.events.Publish(id, Event{Type: EventMessage, ConversationID: id, Message: &ev, Timestamp: now}, "")
		}
	}
	return out, nil
}

// Get returns a snapshot of the conversation.
func (s *Store) Get(id string) (Conversation, error) {
	e, ok := s.convs.Get(id)
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.evicted {
		return Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.conv.Clone(), nil
}

// Evict removes the conversation and reports whether it existed. Later Get
// and Append calls fail with ErrNotFound.
func (s *Store) Evict(id string) bool {
	e, ok := s.convs.Delete(id)
	if !ok {
		return false
	}

	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()

	s.publishEviction(id)
	s.logger.Debug("evicted conversation", "conversation_id", id)
	return true
}

// List returns summaries of the conversations owned by owner, oldest first.
// An empty owner lists every conversation.
func (s *Store) List(owner string) []Summary {
	var out []Summary
	s.convs.Range(func(_ string, e *entry) bool {
		e.mu.RLock()
		if !e.evicted && (owner == "" || e.conv.Owner == owner) {
			out = append(out, e.conv.Summary())
		}
		e.mu.RUnlock()
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if out == nil {
		out = []Summary{}
	}
	return out
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	return s.convs.Len()
}

// SweepIdle evicts conversations with no activity for longer than idle and
// returns their IDs. A non-positive idle evicts nothing.
func (s *Store) SweepIdle(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}

	now := s.now()
	removed := s.convs.DeleteFunc(func(_ string, e *entry) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if now.Sub(e.conv.UpdatedAt) <= idle {
			return false
		}
		e.evicted = true
		return true
	})

	for _, id := range removed {
		s.publishEviction(id)
	}
	if len(removed) > 0 {
		s.logger.Info("evicted idle conversations", "count", len(removed), "idle_timeout", idle)
	}
	return removed
}

// RunSweeper calls SweepIdle every interval until ctx is done. It returns
// immediately when idle or interval is not positive.
func (s *Store) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepIdle(idle)
		}
	}
}

func (s *Store) publishEviction(id string) {
	if s.events == nil {
		return
	}
	s.events.Publish(id, Event{Type: EventEvicted, ConversationID: id, Timestamp: s.now()}, "")
}
