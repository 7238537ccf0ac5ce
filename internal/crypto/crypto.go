// Package crypto encrypts sensitive user fields (bank access tokens, emails)
// with AES-256-GCM. Ciphertexts are encoded as hex(nonce):hex(tag):hex(data).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrInvalidFormat = errors.New("crypto: invalid encrypted data format")
	ErrAuthFailed    = errors.New("crypto: message authentication failed")
)

// Cipher encrypts and decrypts strings with a fixed 32-byte key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher returns a Cipher for a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to read nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - c.aead.Overhead()

	return hex.EncodeToString(nonce) + ":" +
		hex.EncodeToString(sealed[tagStart:]) + ":" +
		hex.EncodeToString(sealed[:tagStart]), nil
}

// Decrypt opens a value produced by Encrypt. Any modification of the nonce,
// tag or ciphertext yields ErrAuthFailed.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidFormat
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", ErrInvalidFormat
	}
	data, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}

	plaintext, err := c.aead.Open(nil, nonce, append(data, tag...), nil)
	if err != nil {
		return "", ErrAuthFailed
	}
	return string(plaintext), nil
}

// SafeDecrypt returns ("", false) for empty input or any decryption failure.
func (c *Cipher) SafeDecrypt(encoded string) (string, bool) {
	if encoded == "" {
		return "", false
	}
	plaintext, err := c.Decrypt(encoded)
	if err != nil {
		zap.L().Warn("Decryption failed", zap.Error(err))
		return "", false
	}
	return plaintext, true
}
