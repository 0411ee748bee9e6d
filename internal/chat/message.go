// Package chat defines the chat message record shared by the history layer,
// the history stores and the notification bus.
//
// Decoding is deliberately permissive: stored history is passed through as-is,
// including records that miss a type or a timestamp, and unknown fields survive
// a decode/encode round trip. Only messages composed locally go through
// Validate.
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a chat turn.
type Type string

// Known message types. TypeAI is the legacy spelling of TypeAssistant.
const (
	TypeUser      Type = "user"
	TypeAssistant Type = "assistant"
	TypeAI        Type = "ai"
	TypeError     Type = "error"
)

// Valid reports whether t is one of the known message types.
func (t Type) Valid() bool {
	switch t {
	case TypeUser, TypeAssistant, TypeAI, TypeError:
		return true
	}
	return false
}

// Validation errors for locally composed messages.
var (
	ErrEmptyContent = errors.New("chat: message content is empty")
	ErrUnknownType  = errors.New("chat: unknown message type")
)

// Message is one chat turn.
type Message struct {
	ID        string
	Content   string
	Text      string // legacy "message" field
	Type      Type
	Timestamp Timestamp
	ScriptID  string
	Metadata  map[string]any

	// Extra holds fields this package does not know about, verbatim.
	Extra map[string]json.RawMessage
}

// NewID returns a fresh client-side message id.
func NewID() string {
	return uuid.NewString()
}

// Body returns the message text, preferring content over the legacy field.
func (m Message) Body() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Text
}

// Validate checks a locally composed message. Stored history is never
// validated.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Body()) == "" {
		return ErrEmptyContent
	}
	if m.Type != "" && !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// Compose fills the defaults of a locally composed message: id, type, timestamp
// and script id. Fields that are already set are kept.
func Compose(m Message, scriptID string, now time.Time) Message {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Type == "" {
		m.Type = TypeUser
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = TimestampMillis(now.UnixMilli())
	}
	if m.ScriptID == "" {
		m.ScriptID = scriptID
	}
	return m
}

// EnsureIDs returns a copy of msgs where every message without an id has been
// given one. All other fields are untouched.
func EnsureIDs(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = NewID()
		}
		out[i] = m
	}
	return out
}

var knownFields = map[string]struct{}{
	"id": {}, "content": {}, "message": {}, "type": {},
	"timestamp": {}, "scriptId": {}, "metadata": {},
}

// UnmarshalJSON decodes a message without enforcing a schema. A known field
// whose value has an unexpected shape is kept in Extra instead of failing.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("chat: decode message: %w", err)
	}
	*m = Message{}
	keep := func(k string, v json.RawMessage) {
		if m.Extra == nil {
			m.Extra = map[string]json.RawMessage{}
		}
		m.Extra[k] = v
	}
	for k, v := range fields {
		if _, ok := knownFields[k]; !ok {
			keep(k, v)
			continue
		}
		if isNull(v) {
			continue
		}
		var ok bool
		switch k {
		case "id":
			m.ID, ok = decodeID(v)
		case "scriptId":
			m.ScriptID, ok = decodeID(v)
		case "content":
			ok = json.Unmarshal(v, &m.Content) == nil
		case "message":
			ok = json.Unmarshal(v, &m.Text) == nil
		case "type":
			var s string
			ok = json.Unmarshal(v, &s) == nil
			m.Type = Type(s)
		case "timestamp":
			ok = m.Timestamp.UnmarshalJSON(v) == nil
		case "metadata":
			ok = json.Unmarshal(v, &m.Metadata) == nil
		}
		if !ok {
			keep(k, v)
		}
	}
	return nil
}

// MarshalJSON encodes the message; unset fields are omitted so a record that
// arrived without a type or timestamp leaves the same way.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+7)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.ID != "" {
		out["id"] = m.ID
	}
	if m.Content != "" {
		out["content"] = m.Content
	}
	if m.Text != "" {
		out["message"] = m.Text
	}
	if m.Type != "" {
		out["type"] = m.Type
	}
	if !m.Timestamp.IsZero() {
		out["timestamp"] = m.Timestamp
	}
	if m.ScriptID != "" {
		out["scriptId"] = m.ScriptID
	}
	if m.Metadata != nil {
		out["metadata"] = m.Metadata
	}
	return json.Marshal(out)
}

// ParseMessages decodes a JSON array of messages permissively.
func ParseMessages(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func decodeID(v json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s, true
	}
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var n json.Number
	if dec.Decode(&n) == nil {
		return n.String(), true
	}
	return "", false
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
