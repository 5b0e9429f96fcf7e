package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/velstra/corecms/internal/metrics"
	"github.com/velstra/corecms/internal/repository"
)

var (
	// ErrInvalidAssertion is returned when the identity assertion fails
	// signature, expiry, or claim checks.
	ErrInvalidAssertion = errors.New("auth: invalid identity assertion")
	// ErrSubjectConflict is returned when an email-matched account is
	// already linked to a different external subject.
	ErrSubjectConflict = errors.New("auth: account linked to another subject")
)

// IdentityClaims are the claims the identity provider asserts about a
// user.
type IdentityClaims struct {
	Email         string `json:"email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// SSOFlow exchanges an externally-issued identity assertion for a local
// session. Accounts are matched by the provider's stable subject id,
// with a fall back to a verified email match, and created on first
// login when neither matches.
type SSOFlow struct {
	accounts   AccountStore
	login      *LoginFlow
	logger     *slog.Logger
	entityType string
	secret     []byte
	issuer     string
}

// NewSSOFlow creates a new SSOFlow instance. The secret verifies the
// provider's HMAC signature; issuer, when non-empty, must match the
// assertion's iss claim.
func NewSSOFlow(accounts AccountStore, login *LoginFlow, entityType string, secret []byte, issuer string, logger *slog.Logger) *SSOFlow {
	return &SSOFlow{
		accounts:   accounts,
		login:      login,
		logger:     logger,
		entityType: entityType,
		secret:     secret,
		issuer:     issuer,
	}
}

// Exchange verifies the assertion, resolves or creates the local
// account, and returns the account plus a minted session token value.
func (f *SSOFlow) Exchange(ctx context.Context, assertion string) (*repository.Account, string, error) {
	claims, err := f.verifyAssertion(assertion)
	if err != nil {
		return nil, "", err
	}

	account, err := f.resolveAccount(ctx, claims)
	if err != nil {
		return nil, "", err
	}

	if f.login.lockout.IsLocked(account.FailedLoginAttempts, account.LastLoginAttempt, time.Now()) {
		metrics.LockoutsTotal.Inc()
		return nil, "", fmt.Errorf("%w: account locked", ErrInvalidAssertion)
	}

	if err := f.accounts.RecordLoginAttempt(ctx, account.ID, true); err != nil {
		return nil, "", err
	}
	cookieValue, err := f.login.MintSession(ctx, account)
	if err != nil {
		return nil, "", err
	}

	f.logger.InfoContext(ctx, "federated login succeeded", slog.Uint64("account_id", account.ID))
	return account, cookieValue, nil
}

func (f *SSOFlow) verifyAssertion(assertion string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return f.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidAssertion
	}
	if claims.Subject == "" {
		return nil, ErrInvalidAssertion
	}
	if f.issuer != "" && claims.Issuer != f.issuer {
		return nil, ErrInvalidAssertion
	}
	return claims, nil
}

// resolveAccount implements the lookup-or-create order: stable subject
// first, then a verified email match (attaching the subject only when
// the account is not already linked elsewhere), then creation.
func (f *SSOFlow) resolveAccount(ctx context.Context, claims *IdentityClaims) (*repository.Account, error) {
	account, err := f.accounts.GetBySSOSubject(ctx, claims.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if claims.EmailVerified && claims.Email != "" {
		account, err := f.accounts.GetByEmail(ctx, f.entityType, claims.Email)
		if err == nil {
			if account.SSOSubject != nil && *account.SSOSubject != claims.Subject {
				return nil, ErrSubjectConflict
			}
			if account.SSOSubject == nil {
				if err := f.accounts.AttachSSOSubject(ctx, account.ID, claims.Subject); err != nil {
					return nil, err
				}
			}
			return account, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	subject := claims.Subject
	login := claims.Email
	if login == "" {
		login = claims.Subject
	}
	account = &repository.Account{
		EntityType: f.entityType,
		Login:      login,
		Email:      claims.Email,
		Active:     true,
		SSOSubject: &subject,
	}
	if err := f.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	metrics.AccountsCreated.WithLabelValues("sso").Inc()
	f.logger.InfoContext(ctx, "account created from identity assertion", slog.Uint64("account_id", account.ID))
	return account, nil
}
