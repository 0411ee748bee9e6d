// Package timeline persists chat history in SQLite. It is the storage behind
// the history HTTP service and the "sqlite" store driver.
package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/historystore"
)

type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for dbs created before typed rows (no-op if column exists).
	_, _ = db.Exec(`ALTER TABLE chat_messages ADD COLUMN message_type TEXT`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id)`)

	return &TimelineService{db: db}, nil
}

// DB returns the underlying *sql.DB for shared access (e.g. health checks).
func (s *TimelineService) DB() *sql.DB { return s.db }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// Messages returns the stored history of (userID, scriptID) in insertion
// order. Rows whose body no longer decodes are skipped.
func (s *TimelineService) Messages(ctx context.Context, userID, scriptID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM chat_messages WHERE user_id = ? AND script_id = ? ORDER BY id ASC`,
		userID, scriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []chat.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m chat.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Append stores msgs at the tail of (userID, scriptID) in one transaction.
func (s *TimelineService) Append(ctx context.Context, userID, scriptID string, msgs []chat.Message) error {
	if userID == "" || scriptID == "" {
		return fmt.Errorf("user and script are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chat_messages (user_id, script_id, message_id, message_type, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, userID, scriptID, m.ID, string(m.Type), string(body), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Clear deletes the history of (userID, scriptID) and returns the number of
// rows removed.
func (s *TimelineService) Clear(ctx context.Context, userID, scriptID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE user_id = ? AND script_id = ?`, userID, scriptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Scripts lists the scripts a user has history for, most recent first.
func (s *TimelineService) Scripts(ctx context.Context, userID string) ([]ScriptSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT script_id, COUNT(*), MAX(created_at)
		FROM chat_messages WHERE user_id = ?
		GROUP BY script_id
		ORDER BY MAX(id) DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScriptSummary
	for rows.Next() {
		var sum ScriptSummary
		var last any
		if err := rows.Scan(&sum.ScriptID, &sum.MessageCount, &last); err != nil {
			return nil, err
		}
		sum.LastActivity = parseSQLiteTime(last)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ForUser returns a history store scoped to userID.
func (s *TimelineService) ForUser(userID string) *UserHistory {
	return &UserHistory{svc: s, userID: userID}
}

// Directory exposes the service as a historystore.Directory.
func (s *TimelineService) Directory() historystore.Directory {
	return historystore.DirectoryFunc(func(userID string) historystore.Store { return s.ForUser(userID) })
}

func parseSQLiteTime(raw any) time.Time {
	var v string
	switch t := raw.(type) {
	case time.Time:
		return t
	case string:
		v = t
	case []byte:
		v = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// UserHistory adapts the service to historystore.Store for one user.
type UserHistory struct {
	svc    *TimelineService
	userID string
}

var (
	_ historystore.Store    = (*UserHistory)(nil)
	_ historystore.Appender = (*UserHistory)(nil)
)

func (h *UserHistory) GetMessages(ctx context.Context, scriptID string) ([]chat.Message, error) {
	return h.svc.Messages(ctx, h.userID, scriptID)
}

func (h *UserHistory) ClearMessages(ctx context.Context, scriptID string) (bool, error) {
	if _, err := h.svc.Clear(ctx, h.userID, scriptID); err != nil {
		return false, err
	}
	return true, nil
}

func (h *UserHistory) AppendMessages(ctx context.Context, scriptID string, msgs []chat.Message) error {
	return h.svc.Append(ctx, h.userID, scriptID, msgs)
}
