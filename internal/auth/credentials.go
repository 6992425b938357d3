// ABOUTME: Credential service deciding whether a chat conversation is authenticated
// ABOUTME: Combines local expiry, remote who-am-I rechecks, and auto-unlink on rejection

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/store"
)

// Credential errors
var (
	ErrUnauthenticated = errors.New("not logged in")
	ErrTokenExpired    = errors.New("token expired")
)

// DefaultTokenLifetime applies when a token carries no readable expiry
const DefaultTokenLifetime = time.Hour

// Checker asks the backend whether a token is still accepted.
type Checker interface {
	WhoAmI(ctx context.Context, token string) (*backend.Identity, error)
}

// Credentials are the values a caller needs to act on the user's behalf
type Credentials struct {
	AccountID string
	Token     string
}

// Options configures a Service
type Options struct {
	// DefaultLifetime is used when neither the caller nor the token supplies an expiry.
	DefaultLifetime time.Duration

	// RecheckInterval skips the remote check when the last successful one is
	// more recent. Zero checks every time.
	RecheckInterval time.Duration

	// StrictRemoteCheck makes inconclusive remote checks (network errors,
	// timeouts, 5xx) fail instead of trusting the stored credentials.
	StrictRemoteCheck bool

	Extractor ExpiryExtractor
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service is the single source of truth for a conversation's credentials.
type Service struct {
	identities store.IdentityStore
	checker    Checker
	extractor  ExpiryExtractor
	lifetime   time.Duration
	recheck    time.Duration
	strict     bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a credential service over an identity store.
func NewService(identities store.IdentityStore, checker Checker, opts Options) *Service {
	if opts.DefaultLifetime <= 0 {
		opts.DefaultLifetime = DefaultTokenLifetime
	}
	if opts.Extractor == nil {
		opts.Extractor = noExpiry{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		identities: identities,
		checker:    checker,
		extractor:  opts.Extractor,
		lifetime:   opts.DefaultLifetime,
		recheck:    opts.RecheckInterval,
		strict:     opts.StrictRemoteCheck,
		logger:     opts.Logger.With("component", "credentials"),
		now:        opts.Now,
	}
}

// GetIdentity returns the stored record, or store.ErrNotFound.
func (s *Service) GetIdentity(ctx context.Context, conversationID string) (*store.ChatIdentity, error) {
	return s.identities.GetIdentity(ctx, conversationID)
}

// Link stores credentials for a conversation. A nil expiresAt is derived from
// the token when possible, otherwise from the default lifetime.
func (s *Service) Link(ctx context.Context, conversationID, accountID, token string, expiresAt *time.Time) error {
	now := s.now()

	var expiry time.Time
	switch {
	case expiresAt != nil:
		expiry = *expiresAt
	default:
		if exp, ok := s.extractor.TryExtractExpiry(token); ok {
			expiry = exp
		} else {
			expiry = now.Add(s.lifetime)
		}
	}

	err := s.identities.LinkIdentity(ctx, store.LinkParams{
		ConversationID: conversationID,
		AccountID:      accountID,
		Token:          token,
		IssuedAt:       now,
		ExpiresAt:      expiry,
	})
	if err != nil {
		return fmt.Errorf("linking %s: %w", conversationID, err)
	}

	s.logger.Info("conversation linked",
		"conversation_id", conversationID,
		"account_id", accountID,
		"expires_at", expiry.UTC().Format(time.RFC3339))
	return nil
}

// Unlink clears the conversation's credentials. Preferences are kept.
func (s *Service) Unlink(ctx context.Context, conversationID string) error {
	if err := s.identities.UnlinkIdentity(ctx, conversationID); err != nil {
		return fmt.Errorf("unlinking %s: %w", conversationID, err)
	}
	s.logger.Info("conversation unlinked", "conversation_id", conversationID)
	return nil
}

// IsLinked reports whether the conversation currently holds usable credentials.
// The only error returned is a storage failure.
func (s *Service) IsLinked(ctx context.Context, conversationID string) (bool, error) {
	_, err := s.RequireCredentials(ctx, conversationID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrTokenExpired):
		return false, nil
	default:
		return false, err
	}
}

// RequireCredentials returns the stored credentials or ErrUnauthenticated /
// ErrTokenExpired. Expired or remotely rejected tokens are unlinked as a side
// effect. An inconclusive remote check keeps the credentials unless the
// service is strict.
func (s *Service) RequireCredentials(ctx context.Context, conversationID string) (Credentials, error) {
	ident, err := s.identities.GetIdentity(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return Credentials{}, ErrUnauthenticated
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("loading identity: %w", err)
	}
	if !ident.HasCredentials() {
		return Credentials{}, ErrUnauthenticated
	}

	now := s.now()
	if ident.ExpiredAt(now) {
		s.autoUnlink(ctx, conversationID, "expired")
		return Credentials{}, ErrTokenExpired
	}

	creds := Credentials{AccountID: ident.AccountID, Token: ident.Token}

	if s.recheck > 0 && ident.LastRemoteCheckAt != nil && now.Sub(*ident.LastRemoteCheckAt) < s.recheck {
		return creds, nil
	}

	if _, err := s.checker.WhoAmI(ctx, ident.Token); err != nil {
		if backend.IsAuthRejection(err) {
			s.autoUnlink(ctx, conversationID, "rejected")
			return Credentials{}, ErrTokenExpired
		}
		if s.strict {
			return Credentials{}, fmt.Errorf("verifying token: %w", err)
		}
		s.logger.Warn("remote token check inconclusive, keeping credentials",
			"conversation_id", conversationID,
			"error", err)
		return creds, nil
	}

	if err := s.identities.MarkRemoteCheck(ctx, conversationID, now); err != nil {
		s.logger.Warn("failed to record remote check", "conversation_id", conversationID, "error", err)
	}
	return creds, nil
}

// autoUnlink clears credentials the service has decided are no longer valid.
func (s *Service) autoUnlink(ctx context.Context, conversationID, reason string) {
	if err := s.identities.UnlinkIdentity(ctx, conversationID); err != nil {
		s.logger.Error("auto-unlink failed", "conversation_id", conversationID, "reason", reason, "error", err)
		return
	}
	s.logger.Info("conversation auto-unlinked", "conversation_id", conversationID, "reason", reason)
}

// GetLanguage returns the conversation's language tag, or "" if unset.
func (s *Service) GetLanguage(ctx context.Context, conversationID string) (string, error) {
	ident, err := s.identities.GetIdentity(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading identity: %w", err)
	}
	return ident.Language, nil
}

// SetLanguage validates and stores a BCP 47 language tag in canonical form.
func (s *Service) SetLanguage(ctx context.Context, conversationID, tag string) (string, error) {
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("invalid language %q: %w", tag, err)
	}
	canonical := parsed.String()
	if err := s.identities.SetLanguage(ctx, conversationID, canonical); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	return canonical, nil
}

// ToggleNotifications flips the notification preference and returns the new value.
func (s *Service) ToggleNotifications(ctx context.Context, conversationID string) (bool, error) {
	enabled, err := s.identities.ToggleNotifications(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("toggling notifications: %w", err)
	}
	return enabled, nil
}
