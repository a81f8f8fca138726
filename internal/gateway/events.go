// ABOUTME: Server-Sent Events stream of a conversation's appended messages and eviction
// ABOUTME: Subscribes to the conversation broadcaster for the lifetime of the request

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
)

// sseKeepalive is how often an idle event stream gets a comment line.
const sseKeepalive = 15 * time.Second

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// handleEvents handles GET /api/v1/conversations/{id}/events requests.
// It streams a "message" event per appended message and an "evicted"
// event when the conversation goes away, which also ends the stream.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	conv, err := g.ownedConversation(r)
	if err != nil {
		g.sendError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported", protocol.CodeInternal)
		return
	}

	ctx := r.Context()
	events, subID := g.events.Subscribe(ctx, conv.ID)
	defer g.events.Unsubscribe(conv.ID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "subscribed", map[string]any{
		"conversation_id": conv.ID,
		"message_count":   len(conv.Messages),
	})
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case conversation.EventMessage:
				g.writeSSEEvent(w, "message", ev.Message)
			case conversation.EventEvicted:
				g.writeSSEEvent(w, "evicted", map[string]string{"conversation_id": ev.ConversationID})
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}
