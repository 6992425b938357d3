// ABOUTME: SQLite implementation of the IdentityStore interface using modernc.org/sqlite
// ABOUTME: Persists chat identity records with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the IdentityStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer at a time; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Every commit reaches disk before the call returns
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_identities (
			conversation_id       TEXT PRIMARY KEY,
			account_id            TEXT,
			token                 TEXT,
			token_issued_at       TEXT,
			token_expires_at      TEXT,
			last_remote_check_at  TEXT,
			language              TEXT NOT NULL DEFAULT '',
			notifications_enabled INTEGER NOT NULL DEFAULT 1,
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL,

			CHECK ((account_id IS NULL) = (token IS NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_chat_identities_account
			ON chat_identities(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('chat_identities') WHERE name = 'last_remote_check_at'`,
			apply:  `ALTER TABLE chat_identities ADD COLUMN last_remote_check_at TEXT`,
			column: "last_remote_check_at",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('chat_identities') WHERE name = 'notifications_enabled'`,
			apply:  `ALTER TABLE chat_identities ADD COLUMN notifications_enabled INTEGER NOT NULL DEFAULT 1`,
			column: "notifications_enabled",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to chat_identities: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "chat_identities")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetIdentity retrieves the identity record for a conversation.
// Returns ErrNotFound if the conversation has never been seen.
func (s *SQLiteStore) GetIdentity(ctx context.Context, conversationID string) (*ChatIdentity, error) {
	query := `
		SELECT conversation_id, account_id, token, token_issued_at, token_expires_at,
		       last_remote_check_at, language, notifications_enabled, created_at, updated_at
		FROM chat_identities
		WHERE conversation_id = ?
	`

	var ident ChatIdentity
	var accountID, token, issuedAt, expiresAt, checkedAt sql.NullString
	var notifications int
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&ident.ConversationID,
		&accountID,
		&token,
		&issuedAt,
		&expiresAt,
		&checkedAt,
		&ident.Language,
		&notifications,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}

	ident.AccountID = accountID.String
	ident.Token = token.String
	ident.NotificationsEnabled = notifications != 0

	if ident.TokenIssuedAt, err = parseNullTime(issuedAt); err != nil {
		return nil, fmt.Errorf("parsing token_issued_at: %w", err)
	}
	if ident.TokenExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing token_expires_at: %w", err)
	}
	if ident.LastRemoteCheckAt, err = parseNullTime(checkedAt); err != nil {
		return nil, fmt.Errorf("parsing last_remote_check_at: %w", err)
	}
	if ident.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if ident.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &ident, nil
}

// LinkIdentity stores credentials for a conversation, creating the record on first link.
// Preferences on an existing record are left untouched.
func (s *SQLiteStore) LinkIdentity(ctx context.Context, params LinkParams) error {
	if params.AccountID == "" || params.Token == "" {
		return ErrInvalidIdentity
	}

	query := `
		INSERT INTO chat_identities (
			conversation_id, account_id, token, token_issued_at, token_expires_at,
			last_remote_check_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			account_id = excluded.account_id,
			token = excluded.token,
			token_issued_at = excluded.token_issued_at,
			token_expires_at = excluded.token_expires_at,
			last_remote_check_at = NULL,
			updated_at = excluded.updated_at
	`

	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, query,
		params.ConversationID,
		params.AccountID,
		params.Token,
		formatTime(params.IssuedAt),
		formatTime(params.ExpiresAt),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("linking identity: %w", err)
	}

	s.logger.Debug("linked identity", "conversation_id", params.ConversationID, "account_id", params.AccountID)
	return nil
}

// UnlinkIdentity clears the credential fields of a conversation's record.
func (s *SQLiteStore) UnlinkIdentity(ctx context.Context, conversationID string) error {
	query := `
		UPDATE chat_identities
		SET account_id = NULL,
		    token = NULL,
		    token_issued_at = NULL,
		    token_expires_at = NULL,
		    last_remote_check_at = NULL,
		    updated_at = ?
		WHERE conversation_id = ?
	`

	if _, err := s.db.ExecContext(ctx, query, formatTime(s.now()), conversationID); err != nil {
		return fmt.Errorf("unlinking identity: %w", err)
	}

	s.logger.Debug("unlinked identity", "conversation_id", conversationID)
	return nil
}

// MarkRemoteCheck records a successful remote validity check.
// Returns ErrNotFound if the conversation has no linked credentials.
func (s *SQLiteStore) MarkRemoteCheck(ctx context.Context, conversationID string, at time.Time) error {
	query := `
		UPDATE chat_identities
		SET last_remote_check_at = ?
		WHERE conversation_id = ? AND token IS NOT NULL
	`

	result, err := s.db.ExecContext(ctx, query, formatTime(at), conversationID)
	if err != nil {
		return fmt.Errorf("recording remote check: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLanguage updates only the language preference, creating the record if needed.
func (s *SQLiteStore) SetLanguage(ctx context.Context, conversationID, language string) error {
	query := `
		INSERT INTO chat_identities (conversation_id, language, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			language = excluded.language,
			updated_at = excluded.updated_at
	`

	now := formatTime(s.now())
	if _, err := s.db.ExecContext(ctx, query, conversationID, language, now, now); err != nil {
		return fmt.Errorf("setting language: %w", err)
	}
	return nil
}

// ToggleNotifications flips the notification preference and returns the new value.
// A new record starts enabled, so its first toggle disables notifications.
func (s *SQLiteStore) ToggleNotifications(ctx context.Context, conversationID string) (bool, error) {
	query := `
		INSERT INTO chat_identities (conversation_id, notifications_enabled, created_at, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			notifications_enabled = 1 - notifications_enabled,
			updated_at = excluded.updated_at
		RETURNING notifications_enabled
	`

	now := formatTime(s.now())
	var enabled int
	if err := s.db.QueryRowContext(ctx, query, conversationID, now, now).Scan(&enabled); err != nil {
		return false, fmt.Errorf("toggling notifications: %w", err)
	}
	return enabled != 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
