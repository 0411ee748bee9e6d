// Package chathistory keeps the chat history of the script the user is working
// on. It caches one message list per (user, script), reloads when the identity
// state changes, and announces every change on the notification bus.
//
// Reload policy: a cached entry is served without I/O, so selecting a script
// that was already loaded for the current user never hits the store again.
// Any change of user drops every entry.
package chathistory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/KafClaw/scriptdesk/internal/bus"
	"github.com/KafClaw/scriptdesk/internal/chat"
	"github.com/KafClaw/scriptdesk/internal/historystore"
	"github.com/KafClaw/scriptdesk/internal/identity"
)

// Defaults for the cache bounds.
const (
	DefaultMaxMessages = 100
	DefaultMaxEntries  = 20
)

// ErrMissingDependency is returned by New when a collaborator is nil.
var ErrMissingDependency = errors.New("chathistory: missing dependency")

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxMessages bounds the messages kept per script. Oldest go first.
func WithMaxMessages(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxMessages = n
		}
	}
}

// WithMaxEntries bounds the number of cached scripts.
func WithMaxEntries(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used to stamp composed messages.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator owns the per-script history cache.
type Coordinator struct {
	stores historystore.Directory
	ids    identity.Source
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	maxMessages int
	maxEntries  int

	mu        sync.Mutex
	entries   map[key]*entry
	epochs    map[key]uint64 // bumped by every successful clear
	userID    string
	currentID string // script whose history is shown; always loaded or entry-less
	activeID  string // script most recently selected; differs from currentID while loading
	userGen   uint64
	clock     uint64
	destroyed bool

	flight singleflight.Group
	unsubs []func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator and subscribes it to the identity source.
func New(stores historystore.Directory, ids identity.Source, b *bus.Bus, opts ...Option) (*Coordinator, error) {
	switch {
	case stores == nil:
		return nil, fmt.Errorf("%w: history store", ErrMissingDependency)
	case ids == nil:
		return nil, fmt.Errorf("%w: identity source", ErrMissingDependency)
	case b == nil:
		return nil, fmt.Errorf("%w: notification bus", ErrMissingDependency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		stores:      stores,
		ids:         ids,
		bus:         b,
		logger:      slog.Default(),
		now:         time.Now,
		maxMessages: DefaultMaxMessages,
		maxEntries:  DefaultMaxEntries,
		entries:     make(map[key]*entry),
		epochs:      make(map[key]uint64),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.userID = identity.UserID(identity.CurrentUser(ids))
	c.unsubs = append(c.unsubs,
		ids.Subscribe(identity.KeyCurrentScript, c.onScriptChanged),
		ids.Subscribe(identity.KeyCurrentUser, c.onUserChanged),
	)
	return c, nil
}

// HandleScriptChange loads the history of script. A nil script or one without
// an id is ignored.
func (c *Coordinator) HandleScriptChange(ctx context.Context, script *identity.Script) {
	if script == nil || script.ID == "" {
		return
	}
	c.LoadScriptHistory(ctx, script.ID)
}

// HandleUserChange drops every cached entry when the user id differs from the
// current one, then reloads the selected script for the new user.
func (c *Coordinator) HandleUserChange(ctx context.Context, user *identity.User) {
	reload, changed := c.switchUser(identity.UserID(user))
	c.bus.Drain()
	if changed && reload != "" {
		c.LoadScriptHistory(ctx, reload)
	}
}

// onScriptChanged and onUserChanged run on the identity source's goroutine.
// State transitions happen synchronously so event order is preserved; only the
// store call is moved to a background goroutine.
func (c *Coordinator) onScriptChanged(v any) {
	script := identity.AsScript(v)
	if script == nil || script.ID == "" {
		return
	}
	c.selectAsync(script.ID)
}

func (c *Coordinator) onUserChanged(v any) {
	reload, changed := c.switchUser(identity.UserID(identity.AsUser(v)))
	c.bus.Drain()
	if changed && reload != "" {
		c.selectAsync(reload)
	}
}

func (c *Coordinator) selectAsync(scriptID string) {
	req, _, done := c.begin(scriptID)
	c.bus.Drain()
	if done {
		return
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.load(c.ctx, req)
	}()
}

func (c *Coordinator) switchUser(newID string) (reload string, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || newID == c.userID {
		return "", false
	}

	c.logger.Info("User changed, dropping cached chat history",
		"previous_user_id", c.userID, "user_id", newID, "entries", len(c.entries))

	prev := c.currentID
	c.userGen++
	clear(c.entries)
	clear(c.epochs)
	c.userID = newID
	c.currentID = ""
	c.activeID = ""
	if prev != "" {
		c.bus.Enqueue(bus.HistoryUpdated{ScriptID: prev, Messages: []chat.Message{}})
	}

	if newID == "" {
		return "", true
	}
	if script := identity.CurrentScript(c.ids); script != nil {
		reload = script.ID
	}
	return reload, true
}

// Wait blocks until background loads started by identity changes finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Destroy unsubscribes from the identity source and drops all state. It is
// safe to call more than once.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	unsubs := c.unsubs
	c.unsubs = nil
	clear(c.entries)
	clear(c.epochs)
	c.userGen++
	c.userID = ""
	c.currentID = ""
	c.activeID = ""
	c.mu.Unlock()

	c.cancel()
	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}
}

// CurrentScriptID returns the script whose history is current, or "".
func (c *Coordinator) CurrentScriptID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentID
}

// CurrentUserID returns the user in scope, or "".
func (c *Coordinator) CurrentUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}
