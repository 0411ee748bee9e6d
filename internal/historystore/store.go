// Package historystore defines the remote chat history API the history
// coordinator talks to, plus an in-memory implementation.
//
// A Store is scoped to one user: the same script id under two users names two
// different histories.
package historystore

import (
	"context"
	"sync"

	"github.com/KafClaw/scriptdesk/internal/chat"
)

// Store is the request/response history service. Both calls may fail for any
// reason; callers treat every error the same way.
type Store interface {
	GetMessages(ctx context.Context, scriptID string) ([]chat.Message, error)
	ClearMessages(ctx context.Context, scriptID string) (bool, error)
}

// Appender is implemented by stores that can persist new messages.
type Appender interface {
	AppendMessages(ctx context.Context, scriptID string, msgs []chat.Message) error
}

// Directory hands out the Store of a user.
type Directory interface {
	ForUser(userID string) Store
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(userID string) Store

func (f DirectoryFunc) ForUser(userID string) Store { return f(userID) }

type memKey struct {
	userID   string
	scriptID string
}

// Memory keeps every user's history in process. It backs tests and the
// "memory" store driver.
type Memory struct {
	mu   sync.RWMutex
	data map[memKey][]chat.Message
}

// NewMemory creates an empty in-memory history.
func NewMemory() *Memory {
	return &Memory{data: make(map[memKey][]chat.Message)}
}

// ForUser returns the Store view of one user's histories.
func (m *Memory) ForUser(userID string) *MemoryStore {
	return &MemoryStore{mem: m, userID: userID}
}

// Directory exposes m as a Directory.
func (m *Memory) Directory() Directory {
	return DirectoryFunc(func(userID string) Store { return m.ForUser(userID) })
}

// Seed replaces the stored history of (userID, scriptID).
func (m *Memory) Seed(userID, scriptID string, msgs []chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[memKey{userID, scriptID}] = append([]chat.Message(nil), msgs...)
}

// MemoryStore is a user-scoped view of Memory.
type MemoryStore struct {
	mem    *Memory
	userID string
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Appender = (*MemoryStore)(nil)
)

// GetMessages returns a copy of the stored history.
func (s *MemoryStore) GetMessages(ctx context.Context, scriptID string) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mem.mu.RLock()
	defer s.mem.mu.RUnlock()
	msgs := s.mem.data[memKey{s.userID, scriptID}]
	return append([]chat.Message{}, msgs...), nil
}

// ClearMessages drops the stored history.
func (s *MemoryStore) ClearMessages(ctx context.Context, scriptID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	delete(s.mem.data, memKey{s.userID, scriptID})
	return true, nil
}

// AppendMessages adds msgs to the tail of the stored history.
func (s *MemoryStore) AppendMessages(ctx context.Context, scriptID string, msgs []chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	k := memKey{s.userID, scriptID}
	s.mem.data[k] = append(s.mem.data[k], msgs...)
	return nil
}
