// ABOUTME: Store interface and data types for garage-assistant persistence
// ABOUTME: Defines the ChatIdentity record and the IdentityStore interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidIdentity is returned when a link is attempted without an account or token
var ErrInvalidIdentity = errors.New("account id and token are both required")

// ChatIdentity maps one chat conversation to a backend account and bearer token.
// AccountID and Token are either both set (linked) or both empty (unlinked).
// Records are never deleted; unlinking clears the credential fields.
type ChatIdentity struct {
	ConversationID    string
	AccountID         string
	Token             string
	TokenIssuedAt     *time.Time
	TokenExpiresAt    *time.Time
	LastRemoteCheckAt *time.Time

	// Preferences
	Language             string // BCP 47 tag, empty means default
	NotificationsEnabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredentials reports whether the record carries an account and token.
// It does not consider expiry.
func (c *ChatIdentity) HasCredentials() bool {
	return c != nil && c.AccountID != "" && c.Token != ""
}

// ExpiredAt reports whether the stored token expiry is at or before now.
// A record without an expiry is never considered expired here.
func (c *ChatIdentity) ExpiredAt(now time.Time) bool {
	return c != nil && c.TokenExpiresAt != nil && !now.Before(*c.TokenExpiresAt)
}

// LinkParams carries the credential fields written by LinkIdentity
type LinkParams struct {
	ConversationID string
	AccountID      string
	Token          string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// IdentityStore defines persistence for chat identity records.
// Every mutating method writes through synchronously and only touches
// the fields it names.
type IdentityStore interface {
	// GetIdentity returns ErrNotFound if the conversation has no record.
	GetIdentity(ctx context.Context, conversationID string) (*ChatIdentity, error)

	// LinkIdentity creates the record if needed and replaces its credential fields.
	LinkIdentity(ctx context.Context, params LinkParams) error

	// UnlinkIdentity clears the credential fields. Unknown conversations are a no-op.
	UnlinkIdentity(ctx context.Context, conversationID string) error

	// MarkRemoteCheck records the time of a successful remote validity check.
	MarkRemoteCheck(ctx context.Context, conversationID string, at time.Time) error

	// Preferences
	SetLanguage(ctx context.Context, conversationID, language string) error
	ToggleNotifications(ctx context.Context, conversationID string) (bool, error)

	// Close releases any resources held by the store
	Close() error
}
