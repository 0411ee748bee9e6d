// Package assistant implements the chat-send flow: record the author's turn,
// ask the assistant backend, record the reply and route any script operation
// it carries.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/scriptops"
)

// Request is what the backend sees for one turn.
type Request struct {
	ScriptID string         `json:"scriptId"`
	Message  string         `json:"message"`
	History  []chat.Message `json:"history"`
}

// Reply is the backend answer. Intent and Response are set when the reply
// also operates on the script.
type Reply struct {
	Text     string           `json:"message"`
	Intent   scriptops.Intent `json:"intent,omitempty"`
	Response json.RawMessage  `json:"response,omitempty"`
}

// Backend produces assistant replies.
type Backend interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// HTTPBackend posts requests as JSON to an assistant endpoint.
type HTTPBackend struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPBackend creates a backend for endpoint. An empty token sends no
// Authorization header.
func NewHTTPBackend(endpoint, token string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Complete sends req and decodes the reply.
func (b *HTTPBackend) Complete(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode assistant request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build assistant request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("assistant request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("read assistant reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("assistant returned HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode assistant reply: %w", err)
	}
	return reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
