// ABOUTME: Handler that forwards each message to an external HTTP endpoint
// ABOUTME: Posts history and message as JSON and expects {content, context} back

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
)

// maxWebhookResponse bounds how much of a webhook reply is read.
const maxWebhookResponse = 1 << 20

type webhookRequest struct {
	ConversationID string                 `json:"conversation_id"`
	Identity       string                 `json:"identity"`
	History        []conversation.Message `json:"history"`
	Message        conversation.Message   `json:"message"`
}

type webhookResponse struct {
	Content string         `json:"content"`
	Context map[string]any `json:"context,omitempty"`
}

// Webhook delegates message handling to an HTTP service.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a Webhook posting to endpoint. A non-positive timeout
// leaves requests bounded only by the caller's context.
func NewWebhook(endpoint string, timeout time.Duration, logger *slog.Logger) (*Webhook, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", endpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    endpoint,
		client: &http.Client{Timeout: max(timeout, 0)},
		logger: logger,
	}, nil
}

// Handle implements Handler.
func (w *Webhook) Handle(ctx context.Context, req Request) (conversation.Message, error) {
	body, err := json.Marshal(webhookRequest{
		ConversationID: req.ConversationID,
		Identity:       req.Identity,
		History:        req.History,
		Message:        req.Message,
	})
	if err != nil {
		return conversation.Message{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return conversation.Message{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := w.client.Do(httpReq)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return conversation.Message{}, fmt.Errorf("reading response: %w", err)
	}

	w.logger.Debug("webhook replied",
		"conversation_id", req.ConversationID,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return conversation.Message{}, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out webhookResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return conversation.Message{}, fmt.Errorf("decoding response: %w", err)
	}
	return conversation.Message{Content: out.Content, Context: out.Context}, nil
}
