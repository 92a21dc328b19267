package session

import "sync"

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

var _ SwapStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return Session{}, ErrNoSession
	}
	return *m.session, nil
}

func (m *MemoryStore) Save(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a copy so callers cannot modify the stored session
	m.session = &s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
	return nil
}

func (m *MemoryStore) CompareAndSwap(old Session, next *Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current Session
	if m.session != nil {
		current = *m.session
	}
	if !sameTokens(current, old) {
		return false, nil
	}
	if next == nil {
		m.session = nil
		return true, nil
	}
	stored := *next
	m.session = &stored
	return true, nil
}
