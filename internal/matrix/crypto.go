// ABOUTME: End-to-end encryption for the Matrix bridge
// ABOUTME: mautrix cryptohelper with a per-account SQLite store and recovery key verification

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// Encryption owns the crypto store of an encrypted bridge.
type Encryption struct {
	helper *cryptohelper.CryptoHelper
}

// Close releases the crypto store.
func (e *Encryption) Close() error {
	if e == nil || e.helper == nil {
		return nil
	}
	return e.helper.Close()
}

// EnableEncryption attaches a crypto helper to the client. Call after Login.
// A store left over from a different device is discarded. A failed recovery
// key verification is logged; encryption still works without cross-signing.
func (b *Bridge) EnableEncryption(ctx context.Context, recoveryKey, dataDir string) (*Encryption, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := b.UserID()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", accountSlug(userID)))
	log := b.logger.With("db", dbPath)

	stale, err := storedDeviceDiffers(dbPath, b.matrix.DeviceID.String())
	if err != nil {
		log.Debug("could not read stored device id", "error", err)
	} else if stale {
		log.Warn("crypto store belongs to another device, resetting")
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing stale crypto store: %w", err)
			}
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(b.matrix, storeKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	b.matrix.Crypto = helper

	if recoveryKey == "" {
		log.Info("encryption enabled without cross-signing")
		return &Encryption{helper: helper}, nil
	}

	machine := helper.Machine()
	if machine == nil {
		log.Warn("crypto machine not initialized, skipping recovery key")
	} else if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		log.Warn("recovery key verification failed", "error", err)
	} else {
		log.Info("device verified with recovery key")
	}
	return &Encryption{helper: helper}, nil
}

// accountSlug turns "@bot:example.org" into "bot_example.org".
func accountSlug(userID string) string {
	var b strings.Builder
	for _, c := range strings.TrimPrefix(userID, "@") {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		case c == ':':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// storeKey derives the crypto store pickle key from the account.
func storeKey(userID string) []byte {
	h := sha256.Sum256([]byte("garage-assistant-crypto:" + userID))
	return h[:]
}

// storedDeviceDiffers reports whether an existing crypto store was created
// for a device other than deviceID.
func storedDeviceDiffers(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
