// Package store provides persistent storage for chat identities using SQLite.
//
// # Architecture
//
// IdentityStore is the only interface. SQLiteStore implements it on
// modernc.org/sqlite; MockStore implements it in memory for tests.
//
// # Data Model
//
//   - ChatIdentity: one record per chat conversation, mapping it to a backend
//     account id and bearer token, plus token timestamps and preferences
//     (language, notifications).
//
// AccountID and Token are both present (linked) or both absent (unlinked); a
// CHECK constraint enforces this in SQLite. Records are never deleted:
// UnlinkIdentity clears the credential columns and keeps preferences.
//
// # Write Semantics
//
// Every mutating method is a single statement that touches only its own
// columns, so preference updates never overwrite credentials and vice versa.
// The database runs with PRAGMA synchronous=FULL; a method that returns nil
// has reached disk.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=FULL;
//
// Database file locations:
//
//   - Production: /var/lib/garage-assistant/identities.db
//   - Development: ~/.local/share/garage/identities.db
//   - Testing: t.TempDir()/test.db
//
// # Error Handling
//
//   - ErrNotFound: the conversation has no record (or no credentials for MarkRemoteCheck)
//   - ErrInvalidIdentity: LinkIdentity called without account id or token
//
// # Migrations
//
// Column additions are applied on startup by runMigrations and are idempotent.
package store
