// Package crypto seals credentials kept in the configuration file so the
// backend API key is not stored in clear text. Sealed values are bound to
// the machine they were sealed on.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SealedPrefix marks a sealed configuration value.
const SealedPrefix = "sealed:v1:"

var (
	// ErrInvalidCiphertext is returned when a sealed value cannot be opened.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrEmptySecret is returned when sealing an empty value.
	ErrEmptySecret = errors.New("secret cannot be empty")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encrypt seals plaintext with AES-256-GCM under a 32-byte key and returns
// nonce||ciphertext as base64.
func encrypt(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

func decrypt(encoded string, key []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// DeriveKey derives the sealing key for machineID.
func DeriveKey(machineID string) []byte {
	if machineID == "" {
		machineID = "default"
	}
	sum := sha256.Sum256([]byte("matchday:" + machineID))
	return sum[:]
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Seal encrypts secret for machineID.
func Seal(secret, machineID string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	enc, err := encrypt([]byte(secret), DeriveKey(machineID))
	if err != nil {
		return "", err
	}
	return SealedPrefix + enc, nil
}

// Open returns the clear value of a sealed value. Values without the sealed
// prefix are returned unchanged.
func Open(value, machineID string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	plaintext, err := decrypt(strings.TrimPrefix(value, SealedPrefix), DeriveKey(machineID))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// MachineID returns a stable identifier for this host: the systemd or D-Bus
// machine id when present, otherwise the hostname.
func MachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return "machine:" + id
			}
		}
	}
	hostname, _ := os.Hostname()
	return "host:" + hostname
}
