// ABOUTME: Mock IdentityStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory IdentityStore implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	identities map[string]*ChatIdentity // keyed by conversation ID

	// Err, when set, is returned by every mutating method.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities: make(map[string]*ChatIdentity),
	}
}

// GetIdentity returns a copy of the stored record.
func (m *MockStore) GetIdentity(ctx context.Context, conversationID string) (*ChatIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.identities[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *ident
	return &result, nil
}

// LinkIdentity stores credentials, creating the record if needed.
func (m *MockStore) LinkIdentity(ctx context.Context, params LinkParams) error {
	if params.AccountID == "" || params.Token == "" {
		return ErrInvalidIdentity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	ident := m.getOrCreateLocked(params.ConversationID)
	issued := params.IssuedAt.UTC()
	expires := params.ExpiresAt.UTC()
	ident.AccountID = params.AccountID
	ident.Token = params.Token
	ident.TokenIssuedAt = &issued
	ident.TokenExpiresAt = &expires
	ident.LastRemoteCheckAt = nil
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

// UnlinkIdentity clears the credential fields.
func (m *MockStore) UnlinkIdentity(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	ident, ok := m.identities[conversationID]
	if !ok {
		return nil
	}
	ident.AccountID = ""
	ident.Token = ""
	ident.TokenIssuedAt = nil
	ident.TokenExpiresAt = nil
	ident.LastRemoteCheckAt = nil
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRemoteCheck records a successful remote check on a linked record.
func (m *MockStore) MarkRemoteCheck(ctx context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	ident, ok := m.identities[conversationID]
	if !ok || ident.Token == "" {
		return ErrNotFound
	}
	at = at.UTC()
	ident.LastRemoteCheckAt = &at
	return nil
}

// SetLanguage updates only the language preference.
func (m *MockStore) SetLanguage(ctx context.Context, conversationID, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	ident := m.getOrCreateLocked(conversationID)
	ident.Language = language
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

// ToggleNotifications flips the notification preference.
func (m *MockStore) ToggleNotifications(ctx context.Context, conversationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}

	ident := m.getOrCreateLocked(conversationID)
	ident.NotificationsEnabled = !ident.NotificationsEnabled
	ident.UpdatedAt = time.Now().UTC()
	return ident.NotificationsEnabled, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// getOrCreateLocked must be called with mu held.
func (m *MockStore) getOrCreateLocked(conversationID string) *ChatIdentity {
	ident, ok := m.identities[conversationID]
	if !ok {
		now := time.Now().UTC()
		ident = &ChatIdentity{
			ConversationID:       conversationID,
			NotificationsEnabled: true,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		m.identities[conversationID] = ident
	}
	return ident
}

var _ IdentityStore = (*MockStore)(nil)
var _ IdentityStore = (*SQLiteStore)(nil)
