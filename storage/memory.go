package storage

import "sync"

// MemoryStore is the in-memory reference implementation of Store. Both maps
// share a single mutex; none of the operations block on I/O, so contention
// is negligible and the single lock keeps whole-record writes trivially
// atomic.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	tokens   map[string]Token
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		tokens:   make(map[string]Token),
	}
}

// SaveSession upserts a session under its state value.
func (m *MemoryStore) SaveSession(state string, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[state] = session
	return nil
}

// GetSession returns a copy of the session for state, or nil if absent.
func (m *MemoryStore) GetSession(state string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[state]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// DeleteSession removes the session for state.
func (m *MemoryStore) DeleteSession(state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, state)
	return nil
}

// SaveToken upserts a token under key, replacing any prior value.
func (m *MemoryStore) SaveToken(key string, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[key] = token
	return nil
}

// GetToken returns a copy of the token for key, or nil if absent.
func (m *MemoryStore) GetToken(key string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

// DeleteToken removes the token for key.
func (m *MemoryStore) DeleteToken(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, key)
	return nil
}
