package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/chathistory"
	"github.com/KafClaw/scriptdesk/internal/historystore"
	"github.com/KafClaw/scriptdesk/internal/scriptops"
)

var (
	// ErrNoScope is returned when no user or script is selected.
	ErrNoScope = errors.New("assistant: no user or script selected")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("assistant: message is empty")
)

// scriptUpdateText stands in for the reply text when the assistant only
// operates on the script.
const scriptUpdateText = "Script updated."

// Service runs chat turns for the selected script.
type Service struct {
	history *chathistory.Coordinator
	stores  historystore.Directory
	backend Backend
	router  *scriptops.Router
	logger  *slog.Logger
	now     func() time.Time
}

// NewService wires the chat-send flow. stores may be nil, in which case turns
// are not persisted; router may be nil, in which case script operations are
// dropped.
func NewService(history *chathistory.Coordinator, stores historystore.Directory, backend Backend, router *scriptops.Router, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		history: history,
		stores:  stores,
		backend: backend,
		router:  router,
		logger:  logger,
		now:     time.Now,
	}
}

// Send records text as the author's turn, asks the backend and records the
// reply. A backend failure is recorded as an error message and returned.
func (s *Service) Send(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	userID, turn, ok := s.history.Record(chat.Compose(chat.Message{Content: text, Type: chat.TypeUser}, "", s.now()))
	if !ok {
		return chat.Message{}, ErrNoScope
	}
	scriptID := turn.ScriptID

	reply, err := s.backend.Complete(ctx, Request{
		ScriptID: scriptID,
		Message:  text,
		History:  s.history.GetScriptHistory(scriptID),
	})
	if err != nil {
		s.logger.Error("Assistant: backend failed", "script_id", scriptID, "error", err)
		failed := s.recordReply(userID, scriptID, chat.Message{Content: err.Error(), Type: chat.TypeError})
		s.persist(ctx, userID, scriptID, turn, failed)
		return failed, fmt.Errorf("assistant: %w", err)
	}

	body := reply.Text
	if strings.TrimSpace(body) == "" {
		body = scriptUpdateText
	}
	answer := chat.Message{Content: body, Type: chat.TypeAssistant}
	if reply.Intent != "" {
		answer.Metadata = map[string]any{"intent": string(reply.Intent)}
	}
	answer = s.recordReply(userID, scriptID, answer)
	s.persist(ctx, userID, scriptID, turn, answer)

	if reply.Intent != "" && s.router != nil {
		s.router.HandleIntent(ctx, scriptops.Envelope{Intent: reply.Intent, Response: reply.Response})
	}
	return answer, nil
}

// recordReply files msg next to the turn it answers. If the author changed
// meanwhile the reply is only composed, not cached.
func (s *Service) recordReply(userID, scriptID string, msg chat.Message) chat.Message {
	msg = chat.Compose(msg, scriptID, s.now())
	if stored, ok := s.history.RecordTo(userID, scriptID, msg); ok {
		return stored
	}
	return msg
}

func (s *Service) persist(ctx context.Context, userID, scriptID string, msgs ...chat.Message) {
	if s.stores == nil {
		return
	}
	appender, ok := s.stores.ForUser(userID).(historystore.Appender)
	if !ok {
		return
	}
	if err := appender.AppendMessages(ctx, scriptID, msgs); err != nil {
		s.logger.Warn("Assistant: failed to persist turn", "script_id", scriptID, "user_id", userID, "error", err)
	}
}
