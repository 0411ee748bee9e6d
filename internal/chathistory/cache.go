package chathistory

import (
	"github.com/KafClaw/scriptdesk/internal/chat"
)

// key scopes one history entry.
type key struct {
	userID   string
	scriptID string
}

type entry struct {
	messages []chat.Message
	touched  uint64
	// loaded is false while the entry only holds local appends made before
	// the store answered.
	loaded bool
}

func (c *Coordinator) keyFor(scriptID string) key {
	return key{userID: c.userID, scriptID: scriptID}
}

// target is the script local appends go to: the one most recently selected,
// falling back to the one currently shown.
func (c *Coordinator) target() string {
	if c.activeID != "" {
		return c.activeID
	}
	return c.currentID
}

func (c *Coordinator) touch(e *entry) {
	c.clock++
	e.touched = c.clock
}

// appendLocked adds msgs to the tail of k's entry, creating it if needed.
func (c *Coordinator) appendLocked(k key, msgs ...chat.Message) *entry {
	e := c.entries[k]
	if e == nil {
		e = &entry{}
		c.entries[k] = e
	}
	e.messages = c.truncate(append(e.messages, msgs...))
	c.touch(e)
	c.evictLocked()
	return e
}

// truncate drops the oldest messages beyond the retention limit.
func (c *Coordinator) truncate(msgs []chat.Message) []chat.Message {
	if over := len(msgs) - c.maxMessages; over > 0 {
		return append([]chat.Message(nil), msgs[over:]...)
	}
	return msgs
}

// evictLocked removes least recently touched entries until the cache fits.
// The shown and the selected script are never evicted.
func (c *Coordinator) evictLocked() {
	for len(c.entries) > c.maxEntries {
		var (
			victim key
			oldest *entry
		)
		for k, e := range c.entries {
			if k.userID == c.userID && (k.scriptID == c.currentID || k.scriptID == c.activeID) {
				continue
			}
			if oldest == nil || e.touched < oldest.touched {
				victim, oldest = k, e
			}
		}
		if oldest == nil {
			return
		}
		delete(c.entries, victim)
		c.logger.Debug("ChatHistory: evicted entry", "script_id", victim.scriptID, "user_id", victim.userID)
	}
}

// mergeLocal appends the local-only messages that the fetched list does not
// already contain.
func mergeLocal(fetched, local []chat.Message) []chat.Message {
	if len(local) == 0 {
		return fetched
	}
	seen := make(map[string]struct{}, len(fetched))
	for _, m := range fetched {
		seen[m.ID] = struct{}{}
	}
	for _, m := range local {
		if _, ok := seen[m.ID]; !ok {
			fetched = append(fetched, m)
		}
	}
	return fetched
}

func clone(msgs []chat.Message) []chat.Message {
	return append([]chat.Message{}, msgs...)
}
