// Package identity holds the observable "who is working on what" state: the
// current user and the current script. The chat history layer subscribes to
// it and reloads history when either changes.
package identity

import (
	"sync"
)

// Key names an observable value.
type Key string

// Keys the history layer cares about.
const (
	KeyCurrentScript Key = "currentScript"
	KeyCurrentUser   Key = "currentUser"
)

// Script identifies a screenplay project.
type Script struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// User identifies the signed-in author.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Listener receives the new value of a key.
type Listener func(value any)

// Source is the read/subscribe side of the identity state.
type Source interface {
	GetState(key Key) any
	// Subscribe registers l for changes of key. The returned function removes
	// the registration; implementations that cannot unsubscribe return nil.
	Subscribe(key Key, l Listener) (unsubscribe func())
}

type subscription struct {
	fn Listener
}

// State is an in-process Source. Listeners run synchronously on the goroutine
// that called SetState, in registration order, and must not call SetState
// themselves.
type State struct {
	emit   sync.Mutex // serializes SetState so listeners see changes in order
	mu     sync.RWMutex
	values map[Key]any
	subs   map[Key][]*subscription
}

var _ Source = (*State)(nil)

// NewState creates an empty identity state.
func NewState() *State {
	return &State{
		values: make(map[Key]any),
		subs:   make(map[Key][]*subscription),
	}
}

// GetState returns the current value of key, or nil.
func (s *State) GetState(key Key) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// SetState stores value under key and notifies the key's listeners.
func (s *State) SetState(key Key, value any) {
	s.emit.Lock()
	defer s.emit.Unlock()

	s.mu.Lock()
	s.values[key] = value
	subs := append([]*subscription(nil), s.subs[key]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(value)
	}
}

// Subscribe registers l for changes of key.
func (s *State) Subscribe(key Key, l Listener) func() {
	sub := &subscription{fn: l}
	s.mu.Lock()
	s.subs[key] = append(s.subs[key], sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.subs[key]
			for i, other := range list {
				if other == sub {
					s.subs[key] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// SetScript selects the current script. A nil script clears the selection.
func (s *State) SetScript(script *Script) {
	s.SetState(KeyCurrentScript, script)
}

// SetUser switches the current user. A nil user signs out.
func (s *State) SetUser(user *User) {
	s.SetState(KeyCurrentUser, user)
}

// Listeners returns the number of listeners registered for key.
func (s *State) Listeners(key Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[key])
}

// CurrentScript reads the current script from src, tolerating absent or
// foreign values.
func CurrentScript(src Source) *Script {
	return AsScript(src.GetState(KeyCurrentScript))
}

// CurrentUser reads the current user from src.
func CurrentUser(src Source) *User {
	return AsUser(src.GetState(KeyCurrentUser))
}

// AsScript converts a listener value to a script. Values of other types yield
// nil.
func AsScript(v any) *Script {
	switch s := v.(type) {
	case *Script:
		return s
	case Script:
		return &s
	}
	return nil
}

// AsUser converts a listener value to a user.
func AsUser(v any) *User {
	switch u := v.(type) {
	case *User:
		return u
	case User:
		return &u
	}
	return nil
}

// UserID returns the id of u, or "" for a nil user.
func UserID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
