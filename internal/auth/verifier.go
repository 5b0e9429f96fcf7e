package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashPrefix     = "pbkdf2_sha512"
	hashIterations = 210000
	hashSaltSize   = 16
	hashKeySize    = 64
)

// Verifier hashes and checks passwords. The encoded form embeds the
// algorithm, iteration count, and salt, so stored hashes keep verifying
// after the defaults change.
type Verifier struct {
	iterations int
}

// NewVerifier creates a new Verifier instance
func NewVerifier() *Verifier {
	return &Verifier{iterations: hashIterations}
}

// Hash derives a salted digest of the password and returns the encoded
// form: pbkdf2_sha512$<iterations>$<salt>$<digest>.
func (v *Verifier) Hash(password string) (string, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	digest := pbkdf2.Key([]byte(password), salt, v.iterations, hashKeySize, sha512.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		hashPrefix,
		v.iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// Verify reports whether the password matches the encoded hash. A
// mismatch returns (false, nil); only a hash that cannot be parsed
// returns an error.
func (v *Verifier) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashPrefix {
		return false, ErrMalformedHash
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, ErrMalformedHash
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
