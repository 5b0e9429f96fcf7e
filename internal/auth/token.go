package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionToken is the payload carried in the login cookie.
type SessionToken struct {
	AccountID     uint64
	MainAccountID uint64
	EntityType    string
	Role          string
}

// TokenCodec mints and verifies the encrypted session tokens stored in
// the login cookie.
type TokenCodec struct {
	codec  *Codec
	maxAge time.Duration
}

// NewTokenCodec creates a new TokenCodec instance. Tokens older than
// maxAge are rejected; a zero maxAge means tokens never expire.
func NewTokenCodec(codec *Codec, maxAge time.Duration) *TokenCodec {
	return &TokenCodec{codec: codec, maxAge: maxAge}
}

// Mint encrypts the token fields into an opaque cookie value. The
// entity type must not contain the field separator; it is a deployment
// configuration value, so that is a configuration fault. The role sits
// last in the payload and may contain anything.
func (t *TokenCodec) Mint(token SessionToken) (string, error) {
	if strings.Contains(token.EntityType, "~") {
		return "", fmt.Errorf("auth: entity type %q must not contain %q", token.EntityType, "~")
	}
	payload := strings.Join([]string{
		strconv.FormatUint(token.AccountID, 10),
		strconv.FormatUint(token.MainAccountID, 10),
		token.EntityType,
		token.Role,
	}, "~")
	return t.codec.EncryptWithTimestamp(payload)
}

// Verify decrypts a cookie value back into its fields, enforcing the
// configured maximum age. Tampered, foreign, or malformed values fail
// with ErrDecryption and stale ones with ErrExpired.
func (t *TokenCodec) Verify(value string) (SessionToken, error) {
	payload, err := t.codec.DecryptWithTimestamp(value, t.maxAge)
	if err != nil {
		return SessionToken{}, err
	}
	parts := strings.SplitN(payload, "~", 4)
	if len(parts) != 4 {
		return SessionToken{}, ErrDecryption
	}
	accountID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return SessionToken{}, ErrDecryption
	}
	mainID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return SessionToken{}, ErrDecryption
	}
	return SessionToken{
		AccountID:     accountID,
		MainAccountID: mainID,
		EntityType:    parts[2],
		Role:          parts[3],
	}, nil
}
