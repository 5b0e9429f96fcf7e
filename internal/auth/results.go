// Package auth implements the account engine: credential verification,
// encrypted tokens, lockout, two-factor authentication, login flows,
// password resets, and account create/update transactions.
package auth

import "errors"

var (
	// ErrInvalidEncryptionKey is returned when the configured key does
	// not have a usable length for AES-256.
	ErrInvalidEncryptionKey = errors.New("auth: encryption key must be 32 bytes")
	// ErrDecryption is returned for any value that cannot be decrypted,
	// whether malformed, tampered with, or encrypted under another key.
	ErrDecryption = errors.New("auth: decryption failed")
	// ErrMalformedHash is returned when a stored credential does not
	// follow the expected encoding.
	ErrMalformedHash = errors.New("auth: malformed password hash")
	// ErrExpired is returned when a timestamped value is older than the
	// caller allows.
	ErrExpired = errors.New("auth: value expired")
	// ErrSessionNotFound is returned when no flow state exists for a key.
	ErrSessionNotFound = errors.New("auth: session not found")
)

// LoginResult is the outcome of a login attempt.
type LoginResult int

const (
	LoginSuccess LoginResult = iota
	LoginInvalidUsernameOrPassword
	LoginUserDoesNotExist
	LoginInvalidPassword
	LoginTooManyAttempts
	LoginUserNotActivated
	LoginTwoFactorRequired
	LoginInvalidTwoFactorCode
	LoginInvalidValidationToken
	LoginInvalidUserID
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccess:
		return "success"
	case LoginInvalidUsernameOrPassword:
		return "invalid_username_or_password"
	case LoginUserDoesNotExist:
		return "user_does_not_exist"
	case LoginInvalidPassword:
		return "invalid_password"
	case LoginTooManyAttempts:
		return "too_many_attempts"
	case LoginUserNotActivated:
		return "user_not_activated"
	case LoginTwoFactorRequired:
		return "two_factor_required"
	case LoginInvalidTwoFactorCode:
		return "invalid_two_factor_code"
	case LoginInvalidValidationToken:
		return "invalid_validation_token"
	case LoginInvalidUserID:
		return "invalid_user_id"
	default:
		return "unknown"
	}
}

// LoginStep identifies the stage of a multi-step login flow.
type LoginStep int

const (
	StepInitial   LoginStep = 1
	StepPassword  LoginStep = 2
	StepSetup2FA  LoginStep = 3
	StepVerify2FA LoginStep = 4
	StepDone      LoginStep = 99
)

func (s LoginStep) String() string {
	switch s {
	case StepInitial:
		return "initial"
	case StepPassword:
		return "password"
	case StepSetup2FA:
		return "setup_two_factor"
	case StepVerify2FA:
		return "verify_two_factor"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// ResetResult is the outcome of a password reset or change.
type ResetResult int

const (
	ResetSuccess ResetResult = iota
	ResetInvalidTokenOrUser
	ResetPasswordsNotTheSame
	ResetOldPasswordInvalid
	ResetEmptyPassword
	ResetPasswordNotSecure
)

func (r ResetResult) String() string {
	switch r {
	case ResetSuccess:
		return "success"
	case ResetInvalidTokenOrUser:
		return "invalid_token_or_user"
	case ResetPasswordsNotTheSame:
		return "passwords_not_the_same"
	case ResetOldPasswordInvalid:
		return "old_password_invalid"
	case ResetEmptyPassword:
		return "empty_password"
	case ResetPasswordNotSecure:
		return "password_not_secure"
	default:
		return "unknown"
	}
}

// SaveResult is the outcome of an account create-or-update.
type SaveResult int

const (
	SaveSuccess SaveResult = iota
	SaveUserAlreadyExists
	SaveInvalidPassword
)

func (r SaveResult) String() string {
	switch r {
	case SaveSuccess:
		return "success"
	case SaveUserAlreadyExists:
		return "user_already_exists"
	case SaveInvalidPassword:
		return "invalid_password"
	default:
		return "unknown"
	}
}
