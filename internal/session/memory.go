package session

import (
	"context"
	"sync"
	"time"

	"github.com/mmeshcher/voucherhub/internal/model"
)

// MemoryStore хранит сессии в памяти процесса; они теряются при перезапуске.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]Session
}

// NewMemoryStore создаёт хранилище сессий со сроком жизни ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// Create создаёт новую сессию пользователя.
func (m *MemoryStore) Create(_ context.Context, userID int64, role model.Role) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictExpired(now)

	s := Session{ID: id, UserID: userID, Role: role, ExpiresAt: now.Add(m.ttl)}
	m.sessions[id] = s
	return &s, nil
}

// Get возвращает действующую сессию.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return &s, nil
}

// Delete удаляет сессию. Удаление отсутствующей сессии не считается ошибкой.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) evictExpired(now time.Time) {
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
}
