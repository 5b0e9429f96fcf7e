package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Codec encrypts and decrypts short strings with AES-256-GCM. Each
// value gets a fresh random nonce, so encrypting the same plaintext
// twice yields different ciphertexts.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a new Codec instance. The key must be exactly 32
// bytes.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("auth: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("auth: create gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals the plaintext and returns a URL-safe base64 string with
// the nonce prepended.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure mode collapses into
// ErrDecryption so callers cannot distinguish tampering from garbage.
func (c *Codec) Decrypt(value string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", ErrDecryption
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// EncryptWithTimestamp seals the plaintext together with the current
// time, for values that must go stale.
func (c *Codec) EncryptWithTimestamp(plaintext string) (string, error) {
	stamped := fmt.Sprintf("%d~%s", time.Now().Unix(), plaintext)
	return c.Encrypt(stamped)
}

// DecryptWithTimestamp reverses EncryptWithTimestamp and rejects values
// older than maxAge with ErrExpired. A maxAge of zero disables the age
// check.
func (c *Codec) DecryptWithTimestamp(value string, maxAge time.Duration) (string, error) {
	stamped, err := c.Decrypt(value)
	if err != nil {
		return "", err
	}
	sep := strings.IndexByte(stamped, '~')
	if sep < 0 {
		return "", ErrDecryption
	}
	unix, err := strconv.ParseInt(stamped[:sep], 10, 64)
	if err != nil {
		return "", ErrDecryption
	}
	if maxAge > 0 && time.Since(time.Unix(unix, 0)) > maxAge {
		return "", ErrExpired
	}
	return stamped[sep+1:], nil
}
