// Package repository implements PostgreSQL persistence for accounts,
// roles, and punch-out sessions.
package repository

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateLogin is returned when an insert or update would
	// produce a second account with the same login.
	ErrDuplicateLogin = errors.New("repository: login already exists")
)

// Account is a stored user or sub-account row.
type Account struct {
	ID                  uint64     `db:"id"`
	MainAccountID       *uint64    `db:"main_account_id"`
	EntityType          string     `db:"entity_type"`
	Login               string     `db:"login"`
	Email               string     `db:"email"`
	PasswordHash        *string    `db:"password_hash"`
	Active              bool       `db:"active"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LastLoginAttempt    *time.Time `db:"last_login_attempt"`
	TwoFactorSecret     *string    `db:"two_factor_secret"`
	SSOSubject          *string    `db:"sso_subject"`
	ResetToken          *string    `db:"reset_token"`
	ResetTokenExpiresAt *time.Time `db:"reset_token_expires_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// HasPassword reports whether the account has a stored credential.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// IsSubAccount reports whether the account belongs to a main account.
func (a *Account) IsSubAccount() bool {
	return a.MainAccountID != nil
}

// Role is a named role an account can hold.
type Role struct {
	ID   uint64 `db:"id"`
	Name string `db:"name"`
}

// PunchOutSession records an accepted procurement handshake so the
// later continuation request can be tied back to it.
type PunchOutSession struct {
	ID          uint64    `db:"id"`
	AccountID   uint64    `db:"account_id"`
	BuyerCookie string    `db:"buyer_cookie"`
	CreatedAt   time.Time `db:"created_at"`
}
