package historystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KafClaw/scriptdesk/internal/chat"
)

// Remote talks to the history HTTP service for one user.
type Remote struct {
	baseURL string
	token   string
	userID  string
	client  *http.Client
}

var (
	_ Store    = (*Remote)(nil)
	_ Appender = (*Remote)(nil)
)

// NewRemote creates a client. A zero timeout leaves the client without one;
// callers then rely on ctx.
func NewRemote(baseURL, token, userID string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		client:  &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("history api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("history api: HTTP %d: %s", e.StatusCode, e.Message)
}

// GetMessages fetches the history of scriptID.
func (r *Remote) GetMessages(ctx context.Context, scriptID string) ([]chat.Message, error) {
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := r.do(ctx, http.MethodGet, scriptID, nil, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []chat.Message{}
	}
	return out.Messages, nil
}

// ClearMessages deletes the history of scriptID.
func (r *Remote) ClearMessages(ctx context.Context, scriptID string) (bool, error) {
	var out struct {
		Cleared bool `json:"cleared"`
	}
	if err := r.do(ctx, http.MethodDelete, scriptID, nil, &out); err != nil {
		return false, err
	}
	return out.Cleared, nil
}

// AppendMessages stores msgs at the tail of scriptID's history.
func (r *Remote) AppendMessages(ctx context.Context, scriptID string, msgs []chat.Message) error {
	body := map[string]any{"messages": msgs}
	return r.do(ctx, http.MethodPost, scriptID, body, nil)
}

func (r *Remote) do(ctx context.Context, method, scriptID string, in, out any) error {
	endpoint := r.baseURL + "/scripts/" + url.PathEscape(scriptID) + "/messages"

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	req.Header.Set("X-User-ID", r.userID)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("history api %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
