package timeline

import (
	"time"
)

// MessageRecord is one stored chat message row.
type MessageRecord struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	ScriptID    string    `json:"script_id"`
	MessageID   string    `json:"message_id"`   // client-side id, may be empty
	MessageType string    `json:"message_type"` // user, assistant, ai, error or empty
	Body        string    `json:"body"`         // the message JSON as received
	CreatedAt   time.Time `json:"created_at"`
}

// ScriptSummary describes one script's stored history.
type ScriptSummary struct {
	ScriptID     string    `json:"script_id"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	script_id TEXT NOT NULL,
	message_id TEXT,
	message_type TEXT,
	body TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_scope ON chat_messages(user_id, script_id, id);
`
