// ABOUTME: In-process FlowSession store with idle expiry
// ABOUTME: Stores copies so callers cannot mutate stored state without Set

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a Store backed by a map. The zero TTL disables expiry.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*FlowSession
	ttl       time.Duration
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		sessions: make(map[string]*FlowSession),
		ttl:      ttl,
		now:      now,
	}
}

// Get returns a copy of the live session.
func (m *MemoryStore) Get(ctx context.Context, conversationID string) (*FlowSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expiredLocked(s, m.now()) {
		delete(m.sessions, conversationID)
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Set stores a copy of s and stamps UpdatedAt.
func (m *MemoryStore) Set(ctx context.Context, s *FlowSession) error {
	now := m.now()
	c := s.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[c.ConversationID] = c
	m.pruneLocked(now)
	return nil
}

// Delete removes the session if present.
func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, conversationID)
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet pruned.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) expiredLocked(s *FlowSession, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.UpdatedAt) >= m.ttl
}

// pruneLocked drops expired sessions at most once per TTL period.
func (m *MemoryStore) pruneLocked(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastPrune) < m.ttl {
		return
	}
	m.lastPrune = now
	for id, s := range m.sessions {
		if m.expiredLocked(s, now) {
			delete(m.sessions, id)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
