package auth

import (
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPManager issues authenticator secrets and validates one-time codes.
type TOTPManager struct {
	issuer string
}

// NewTOTPManager creates a new TOTPManager instance. The issuer is the
// label authenticator apps display next to the account.
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer}
}

// Generate creates a fresh secret for the account and returns the
// secret plus the otpauth provisioning URI to render as a QR code.
func (m *TOTPManager) Generate(accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether the code is valid for the secret. The
// library accepts one period of clock skew in either direction.
func (m *TOTPManager) Validate(code, secret string) bool {
	return totp.Validate(code, secret)
}
