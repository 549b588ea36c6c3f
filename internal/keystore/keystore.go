// Package keystore protects the shared backup passphrase at rest in the
// working directory across a multi-entry backup run (SPEC_FULL §B),
// adapted directly from the teacher's internal/crypto/keystore.go: same
// Argon2id-derived AES-256-GCM envelope, repurposed from an Ed25519
// private key to an opaque passphrase string.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltSize      = 32
	formatVersion = 1
)

// ErrInvalidUnlockPassphrase is returned when the unlock passphrase fails
// to decrypt the keystore entry.
var ErrInvalidUnlockPassphrase = errors.New("invalid unlock passphrase or corrupted keystore")

// entry is the on-disk envelope.
type entry struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func deriveKey(unlockPassphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(unlockPassphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// Save encrypts backupPassphrase under unlockPassphrase and writes it to
// path with owner-only permissions.
func Save(path, backupPassphrase, unlockPassphrase string) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keystore: generating salt: %w", err)
	}
	key := deriveKey(unlockPassphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("keystore: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("keystore: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("keystore: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(backupPassphrase), nil)

	e := entry{Version: formatVersion, Salt: salt, Nonce: nonce, Ciphertext: ciphertext}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("keystore: write: %w", err)
	}
	return nil
}

// Load decrypts and returns the backup passphrase stored at path.
func Load(path, unlockPassphrase string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("keystore: read: %w", err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", fmt.Errorf("keystore: unmarshal: %w", err)
	}

	key := deriveKey(unlockPassphrase, e.Salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("keystore: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("keystore: gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, e.Nonce, e.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUnlockPassphrase, err)
	}
	return string(plaintext), nil
}
