package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize  = 32
	saltSize = 16
	// PBKDF2-SHA256 iteration count for passphrase-derived keys.
	keyIter = 20000
)

// deriveKey stretches a passphrase into a 32-byte AES key.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, keyIter, keySize, sha256.New)
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from the
// passphrase. The returned blob is Salt + Nonce + Ciphertext; a fresh random
// salt and nonce are drawn for every call.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Seal appends nonce + ciphertext after the salt.
	return gcm.Seal(append(salt, nonce...), nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. It fails when the passphrase is
// wrong or the data was altered.
func Open(passphrase string, data []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(data) < saltSize {
		return nil, errors.New("ciphertext too short")
	}

	salt, rest := data[:saltSize], data[saltSize:]

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
