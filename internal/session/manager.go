package session

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
)

// Manager owns one State per conversation. States are created lazily and
// live until Delete.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*State
	opts     []Option
}

// NewManager creates a manager; opts apply to every State it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		sessions: make(map[string]*State),
		opts:     opts,
	}
}

// GenerateID returns a random 16-char hex conversation id.
func GenerateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "session"
	}
	return hex.EncodeToString(b)
}

// Get returns the state for id, creating it on first access.
func (m *Manager) Get(id string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := NewState(id, m.opts...)
	m.sessions[id] = s
	return s
}

// Clear starts a new task in an existing conversation.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.ClearForNewTask()
	}
}

// Reset wipes a conversation's state.
func (m *Manager) Reset(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.Reset()
	}
}

// Delete forgets a conversation.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// IDs lists known conversation ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
