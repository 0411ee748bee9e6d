package chathistory

import (
	"context"
	"fmt"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chat"
)

// loadRequest captures what a store call was issued for. A response is only
// applied if the user generation and the clear epoch are still the same.
type loadRequest struct {
	key   key
	gen   uint64
	epoch uint64
}

func (r loadRequest) flightKey() string {
	return fmt.Sprintf("%d/%d/%s/%s", r.gen, r.epoch, r.key.userID, r.key.scriptID)
}

// LoadScriptHistory makes scriptID the selected script and returns its
// history. A cached entry is served without calling the store. Failures are
// logged and yield an empty list.
func (c *Coordinator) LoadScriptHistory(ctx context.Context, scriptID string) []chat.Message {
	req, msgs, done := c.begin(scriptID)
	c.bus.Drain()
	if done {
		return msgs
	}
	return c.load(ctx, req)
}

// begin selects scriptID. It reports done when no store call is needed.
func (c *Coordinator) begin(scriptID string) (loadRequest, []chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return loadRequest{}, []chat.Message{}, true
	}
	if c.userID == "" || scriptID == "" {
		c.logger.Warn("ChatHistory: load skipped, no user or script in scope",
			"user_id", c.userID, "script_id", scriptID)
		return loadRequest{}, []chat.Message{}, true
	}

	c.activeID = scriptID
	k := c.keyFor(scriptID)
	if e := c.entries[k]; e != nil && e.loaded {
		c.touch(e)
		c.showLocked(scriptID, e)
		return loadRequest{}, clone(e.messages), true
	}
	return loadRequest{key: k, gen: c.userGen, epoch: c.epochs[k]}, nil, false
}

// load runs one store call per request; concurrent loads of the same request
// share it.
func (c *Coordinator) load(ctx context.Context, req loadRequest) []chat.Message {
	v, _, _ := c.flight.Do(req.flightKey(), func() (any, error) {
		if msgs, ok := c.settleFromCache(req); ok {
			return msgs, nil
		}
		msgs, err := c.stores.ForUser(req.key.userID).GetMessages(ctx, req.key.scriptID)
		return c.settle(req, msgs, err), nil
	})
	c.bus.Drain()

	msgs, _ := v.([]chat.Message)
	return clone(msgs)
}

// settleFromCache serves a request that a previous call already answered.
func (c *Coordinator) settleFromCache(req loadRequest) ([]chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || req.gen != c.userGen || req.epoch != c.epochs[req.key] {
		return nil, false
	}
	e := c.entries[req.key]
	if e == nil || !e.loaded {
		return nil, false
	}
	c.touch(e)
	if c.activeID == req.key.scriptID {
		c.showLocked(req.key.scriptID, e)
	}
	return clone(e.messages), true
}

// settle applies a store response.
func (c *Coordinator) settle(req loadRequest, fetched []chat.Message, err error) []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	scriptID := req.key.scriptID
	if c.destroyed || req.gen != c.userGen {
		c.logger.Debug("ChatHistory: discarding load for previous user", "script_id", scriptID, "user_id", req.key.userID)
		return []chat.Message{}
	}
	latest := c.activeID == scriptID

	if err != nil {
		c.logger.Error("ChatHistory: failed to load history",
			"script_id", scriptID, "user_id", req.key.userID, "error", err)
		if latest {
			c.showLocked(scriptID, c.entries[req.key])
		}
		return []chat.Message{}
	}
	if req.epoch != c.epochs[req.key] {
		c.logger.Info("ChatHistory: discarding load overtaken by clear", "script_id", scriptID)
		if latest {
			c.showLocked(scriptID, c.entries[req.key])
		}
		return []chat.Message{}
	}

	msgs := chat.EnsureIDs(fetched)
	e := c.entries[req.key]
	if e == nil {
		e = &entry{}
		c.entries[req.key] = e
	} else if !e.loaded {
		msgs = mergeLocal(msgs, e.messages)
	}
	e.messages = c.truncate(msgs)
	e.loaded = true
	c.touch(e)

	if latest {
		c.currentID = scriptID
		c.bus.Enqueue(bus.HistoryUpdated{ScriptID: scriptID, Messages: clone(e.messages)})
	} else {
		c.logger.Debug("ChatHistory: cached superseded load", "script_id", scriptID, "active_script_id", c.activeID)
	}
	c.evictLocked()
	return clone(e.messages)
}

// showLocked moves the current pointer to scriptID and announces e's messages,
// or an empty list when there is no entry. Nothing is published when the
// pointer does not move and there is an entry already on screen.
func (c *Coordinator) showLocked(scriptID string, e *entry) {
	if c.currentID == scriptID && e != nil {
		return
	}
	c.currentID = scriptID
	msgs := []chat.Message{}
	if e != nil {
		msgs = clone(e.messages)
	}
	c.bus.Enqueue(bus.HistoryUpdated{ScriptID: scriptID, Messages: msgs})
}

// GetCurrentScriptHistory returns a copy of the current script's messages.
func (c *Coordinator) GetCurrentScriptHistory() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentID == "" {
		return []chat.Message{}
	}
	return c.messagesLocked(c.currentID)
}

// GetScriptHistory returns a copy of scriptID's cached messages for the
// current user. It never calls the store.
func (c *Coordinator) GetScriptHistory(scriptID string) []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesLocked(scriptID)
}

func (c *Coordinator) messagesLocked(scriptID string) []chat.Message {
	if c.userID == "" {
		return []chat.Message{}
	}
	if e := c.entries[c.keyFor(scriptID)]; e != nil {
		return clone(e.messages)
	}
	return []chat.Message{}
}
