package chathistory

import (
	"context"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chat"
)

// AddMessage appends a locally composed message to the selected script. It
// returns false, leaving the history untouched, when no user or script is in
// scope or the message has no content.
func (c *Coordinator) AddMessage(msg chat.Message) bool {
	_, _, ok := c.Record(msg)
	return ok
}

// Record is AddMessage reporting where the message went: the user it was
// recorded for and the message as stored, whose ScriptID names the script.
// The selected script is read under the same lock as the append, so a
// script switch in flight cannot split the two.
func (c *Coordinator) Record(msg chat.Message) (userID string, stored chat.Message, ok bool) {
	c.mu.Lock()
	scriptID, ok := c.scopeForAppend()
	if !ok {
		c.mu.Unlock()
		return "", chat.Message{}, false
	}
	return c.recordLocked(scriptID, msg)
}

// RecordTo appends a locally composed message to scriptID of userID, whether
// or not scriptID is selected. It is used to keep a reply next to the turn
// that prompted it. Nothing happens unless userID is the current user.
func (c *Coordinator) RecordTo(userID, scriptID string, msg chat.Message) (chat.Message, bool) {
	c.mu.Lock()
	if c.destroyed || userID == "" || scriptID == "" || userID != c.userID {
		c.mu.Unlock()
		c.logger.Warn("ChatHistory: append skipped, scope no longer current", "user_id", userID, "script_id", scriptID)
		return chat.Message{}, false
	}
	_, stored, ok := c.recordLocked(scriptID, msg)
	return stored, ok
}

// recordLocked validates, composes and appends msg. It is called with mu held
// and releases it.
func (c *Coordinator) recordLocked(scriptID string, msg chat.Message) (string, chat.Message, bool) {
	if err := msg.Validate(); err != nil {
		c.mu.Unlock()
		c.logger.Warn("ChatHistory: rejected message", "script_id", scriptID, "error", err)
		return "", chat.Message{}, false
	}

	userID := c.userID
	msg.ScriptID = scriptID
	msg = chat.Compose(msg, scriptID, c.now())
	c.appendLocked(c.keyFor(scriptID), msg)
	c.bus.Enqueue(bus.MessageAdded{ScriptID: scriptID, Message: msg})
	c.mu.Unlock()

	c.bus.Drain()
	return userID, msg, true
}

// AppendHistory appends a batch of locally composed messages. Either every
// message is valid and the whole batch is appended, or nothing changes.
func (c *Coordinator) AppendHistory(msgs []chat.Message) bool {
	if len(msgs) == 0 {
		return false
	}

	c.mu.Lock()
	scriptID, ok := c.scopeForAppend()
	if !ok {
		c.mu.Unlock()
		return false
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			c.mu.Unlock()
			c.logger.Warn("ChatHistory: rejected history batch", "script_id", scriptID, "index", i, "error", err)
			return false
		}
	}

	now := c.now()
	composed := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		m.ScriptID = scriptID
		composed[i] = chat.Compose(m, scriptID, now)
	}
	e := c.appendLocked(c.keyFor(scriptID), composed...)
	c.bus.Enqueue(bus.HistoryUpdated{ScriptID: scriptID, Messages: clone(e.messages)})
	c.mu.Unlock()

	c.bus.Drain()
	return true
}

// scopeForAppend returns the script local appends go to. Callers hold mu.
func (c *Coordinator) scopeForAppend() (string, bool) {
	if c.destroyed {
		return "", false
	}
	scriptID := c.target()
	if c.userID == "" || scriptID == "" {
		c.logger.Warn("ChatHistory: append skipped, no user or script in scope",
			"user_id", c.userID, "script_id", scriptID)
		return "", false
	}
	return scriptID, true
}

// InjectMessage records a message that arrived from elsewhere, such as
// another session of the same author. It is dropped unless userID is the
// current user. The message is stored as received.
func (c *Coordinator) InjectMessage(userID, scriptID string, msg chat.Message) bool {
	c.mu.Lock()
	if c.destroyed || userID == "" || scriptID == "" || userID != c.userID {
		c.mu.Unlock()
		c.logger.Debug("ChatHistory: ignored message for another scope", "user_id", userID, "script_id", scriptID)
		return false
	}
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	c.appendLocked(c.keyFor(scriptID), msg)
	if scriptID == c.currentID {
		c.bus.Enqueue(bus.MessageAdded{ScriptID: scriptID, Message: msg})
	}
	c.mu.Unlock()

	c.bus.Drain()
	return true
}

// ClearScriptHistory clears scriptID's history in the store and then drops
// the cached entry of the current user. On store failure nothing changes
// locally and false is returned.
func (c *Coordinator) ClearScriptHistory(ctx context.Context, scriptID string) bool {
	c.mu.Lock()
	if c.destroyed || c.userID == "" || scriptID == "" {
		c.logger.Warn("ChatHistory: clear skipped, no user or script in scope",
			"user_id", c.userID, "script_id", scriptID)
		c.mu.Unlock()
		return false
	}
	userID, gen := c.userID, c.userGen
	c.mu.Unlock()

	cleared, err := c.stores.ForUser(userID).ClearMessages(ctx, scriptID)
	if err != nil {
		c.logger.Error("ChatHistory: failed to clear history", "script_id", scriptID, "user_id", userID, "error", err)
		return false
	}
	if !cleared {
		c.logger.Warn("ChatHistory: store did not clear history", "script_id", scriptID, "user_id", userID)
		return false
	}

	c.mu.Lock()
	if c.destroyed || gen != c.userGen {
		c.mu.Unlock()
		return true
	}
	k := c.keyFor(scriptID)
	delete(c.entries, k)
	c.epochs[k]++
	c.bus.Enqueue(bus.HistoryCleared{ScriptID: scriptID})
	if scriptID == c.currentID {
		c.bus.Enqueue(bus.HistoryUpdated{ScriptID: scriptID, Messages: []chat.Message{}})
	}
	c.mu.Unlock()

	c.bus.Drain()
	c.logger.Info("ChatHistory: cleared history", "script_id", scriptID, "user_id", userID)
	return true
}
