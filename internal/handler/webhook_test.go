// ABOUTME: Tests for the webhook handler against an httptest server
// ABOUTME: Covers request shape, successful replies, error statuses and timeouts

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/logging"
)

func TestWebhook_PostsHistoryAndMessage(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(webhookResponse{Content: "pong", Context: map[string]any{"model": "stub"}})
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, time.Second, logging.Discard())
	require.NoError(t, err)

	history := []conversation.Message{{Role: conversation.RoleClient, Content: "earlier"}}
	reply, err := Wrap("webhook", wh, nil).Handle(context.Background(), request("ping", history...))
	require.NoError(t, err)

	assert.Equal(t, "pong", reply.Content)
	assert.Equal(t, "stub", reply.Context["model"])
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, "alice", got.Identity)
	assert.Equal(t, "ping", got.Message.Content)
	require.Len(t, got.History, 1)
	assert.Equal(t, "earlier", got.History[0].Content)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, time.Second, logging.Discard())
	require.NoError(t, err)

	_, err = Wrap("webhook", wh, nil).Handle(context.Background(), request("ping"))
	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhook_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, time.Second, logging.Discard())
	require.NoError(t, err)

	_, err = wh.Handle(context.Background(), request("ping"))
	assert.ErrorContains(t, err, "decoding response")
}

func TestWebhook_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	wh, err := NewWebhook(srv.URL, 50*time.Millisecond, logging.Discard())
	require.NoError(t, err)

	_, err = wh.Handle(context.Background(), request("ping"))
	assert.Error(t, err)
}

func TestNewWebhook_RejectsBadURLs(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://example.com", "http://"} {
		_, err := NewWebhook(u, time.Second, nil)
		assert.Error(t, err, "url %q", u)
	}
}
