// Package conversation holds conversation state for the gateway.
//
// # Store
//
// Store is an in-memory registry keyed by conversation ID (UUIDv4). Each
// conversation has its own lock, so appends to one conversation are
// serialized while unrelated conversations proceed in parallel:
//
//	store := conversation.NewStore(conversation.WithMaxMessages(1000))
//	conv := store.Create("alice")
//	stored, err := store.Append(conv.ID,
//	    conversation.Message{Role: conversation.RoleClient, Content: "hello"},
//	    conversation.Message{Role: conversation.RoleAssistant, Content: "hi"},
//	)
//
// Append is all-or-nothing: a batch is either stored in full or rejected.
// Message IDs are ULIDs assigned at append time. Get returns a deep copy.
//
// # Eviction
//
// Evict removes a conversation explicitly. SweepIdle and RunSweeper remove
// conversations with no activity for longer than the idle timeout. Evicted
// conversations behave exactly like unknown ones: ErrNotFound.
//
// # Events
//
// When a Store has an EventBroadcaster, every stored message and every
// eviction is published to subscribers of that conversation. The HTTP API
// streams these as server-sent events.
//
// # Transcripts
//
// RenderMarkdown and RenderHTML export a conversation for humans.
package conversation
