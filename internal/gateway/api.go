// ABOUTME: HTTP JSON API for tokens, one-shot messages and conversation management
// ABOUTME: Maps protocol error codes to HTTP statuses with a JSON {error, code} body

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/conversation"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// TokenRequest is the JSON request body for POST /api/v1/auth/token.
type TokenRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// TokenResponse is the JSON response for POST /api/v1/auth/token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	Identity  string `json:"identity"`
	ExpiresAt string `json:"expires_at"`
	ExpiresIn int    `json:"expires_in"`
}

// ListConversationsResponse is the JSON response for GET /api/v1/conversations.
type ListConversationsResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
}

// httpStatus maps a protocol error code to an HTTP status.
func httpStatus(code protocol.Code) int {
	switch code {
	case protocol.CodeForbidden:
		return http.StatusForbidden
	case protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeConversationFull:
		return http.StatusConflict
	case protocol.CodeHandlerError:
		return http.StatusBadGateway
	case protocol.CodeShuttingDown, protocol.CodeSessionClosed, protocol.CodeCanceled:
		return http.StatusServiceUnavailable
	case protocol.CodeBadRequest:
		return http.StatusBadRequest
	}
	if code.IsAuth() {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string, code protocol.Code) {
	g.writeJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

// sendError classifies err and writes it. Internal errors are logged and
// reported without detail.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	code := protocol.CodeOf(err)
	if code == protocol.CodeInternal {
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", code)
		return
	}
	g.sendJSONError(w, httpStatus(code), err.Error(), code)
}

// setRetryAfter sets the Retry-After header in whole seconds, at least 1.
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", protocol.ErrBadRequest)
	}
	return nil
}

// handleInfo handles GET /api/v1/info.
func (g *Gateway) handleInfo(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.protocol.Info())
}

// handleIssueToken handles POST /api/v1/auth/token requests.
// It exchanges an identity and secret for a bearer token.
func (g *Gateway) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}
	if req.Identity == "" || req.Secret == "" {
		g.sendJSONError(w, http.StatusBadRequest, "identity and secret are required", protocol.CodeBadRequest)
		return
	}

	tok, err := g.protocol.IssueToken(r.Context(), req.Identity, req.Secret)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			g.logger.Warn("auth failure", "reason", string(protocol.CodeOf(err)), "peer_addr", r.RemoteAddr)
		}
		g.sendError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, TokenResponse{
		Token:     tok.Value,
		TokenType: "Bearer",
		Identity:  tok.Identity,
		ExpiresAt: tok.ExpiresAt.UTC().Format(time.RFC3339),
		ExpiresIn: int(time.Until(tok.ExpiresAt).Seconds()),
	})
}

// handleRevokeToken handles POST /api/v1/auth/revoke requests.
// The bearer token of the request is the one revoked.
func (g *Gateway) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	value := auth.BearerToken(r)
	if value == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "missing authorization header", protocol.CodeInvalidToken)
		return
	}

	err := g.protocol.Revoke(r.Context(), value)
	switch {
	case errors.Is(err, auth.ErrRevocationDisabled):
		g.sendJSONError(w, http.StatusNotImplemented, err.Error(), protocol.CodeBadRequest)
	case err != nil:
		g.sendError(w, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleMessage handles POST /api/v1/messages requests.
// The body is a wire request; the token may also come from the
// Authorization header. The reply is the wire response.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := decodeBody(w, r, &req); err != nil {
		g.sendError(w, err)
		return
	}
	if req.Token == "" {
		req.Token = auth.BearerToken(r)
	}

	resp, err := g.protocol.Exchange(r.Context(), req)
	if err == nil {
		g.writeJSON(w, http.StatusOK, resp)
		return
	}

	code := protocol.CodeOf(err)
	if code == protocol.CodeRateLimited && resp.Payload.Error != nil {
		setRetryAfter(w, time.Duration(resp.Payload.Error.RetryAfterSeconds*float64(time.Second)))
	}
	if code == protocol.CodeInternal {
		g.logger.Error("message failed", "error", err)
		resp.Payload.Error.Message = "internal server error"
	}
	g.writeJSON(w, httpStatus(code), resp)
}

// handleCreateConversation handles POST /api/v1/conversations requests.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context()).Identity
	conv := g.convs.Create(identity)
	g.logger.Info("conversation created", "conversation_id", conv.ID, "identity", identity)
	g.writeJSON(w, http.StatusCreated, conv)
}

// handleListConversations handles GET /api/v1/conversations requests.
// Only the caller's own conversations are listed.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustFromContext(r.Context()).Identity
	g.writeJSON(w, http.StatusOK, ListConversationsResponse{
		Conversations: g.convs.List(identity),
	})
}

// ownedConversation loads the conversation named by the path and checks
// that the caller owns it.
func (g *Gateway) ownedConversation(r *http.Request) (conversation.Conversation, error) {
	conv, err := g.convs.Get(r.PathValue("id"))
	if err != nil {
		return conversation.Conversation{}, err
	}
	if conv.Owner != auth.MustFromContext(r.Context()).Identity {
		return conversation.Conversation{}, auth.ErrIdentityMismatch
	}
	return conv, nil
}

// handleGetConversation handles GET /api/v1/conversations/{id} requests.
// Supports optional ?limit=N to return only the most recent messages.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.ownedConversation(r)
	if err != nil {
		g.sendError(w, err)
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer", protocol.CodeBadRequest)
			return
		}
		if len(conv.Messages) > limit {
			conv.Messages = conv.Messages[len(conv.Messages)-limit:]
		}
	}

	g.writeJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation handles DELETE /api/v1/conversations/{id} requests.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.ownedConversation(r)
	if err != nil {
		g.sendError(w, err)
		return
	}
	if !g.convs.Evict(conv.ID) {
		g.sendError(w, conversation.ErrNotFound)
		return
	}
	g.logger.Info("conversation evicted", "conversation_id", conv.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript handles GET /api/v1/conversations/{id}/transcript.
// ?format=markdown (default) or ?format=html.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	conv, err := g.ownedConversation(r)
	if err != nil {
		g.sendError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(conversation.RenderMarkdown(conv)))
	case "html":
		page, err := conversation.RenderHTML(conv)
		if err != nil {
			g.sendError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	default:
		g.sendJSONError(w, http.StatusBadRequest, "format must be markdown or html", protocol.CodeBadRequest)
	}
}
