package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const codeUniqueViolation = "23505"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so repository
// methods work inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository persists accounts and their roles.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository instance. It
// accepts a pool or an open transaction.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	return &AccountRepository{db: tx}
}

const accountColumns = `id, main_account_id, entity_type, login, email, password_hash,
	active, failed_login_attempts, last_login_attempt, two_factor_secret,
	sso_subject, reset_token, reset_token_expires_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.MainAccountID, &a.EntityType, &a.Login, &a.Email, &a.PasswordHash,
		&a.Active, &a.FailedLoginAttempts, &a.LastLoginAttempt, &a.TwoFactorSecret,
		&a.SSOSubject, &a.ResetToken, &a.ResetTokenExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// GetByLogin fetches an account by login within an entity type.
func (r *AccountRepository) GetByLogin(ctx context.Context, entityType, login string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE entity_type = $1 AND login = $2`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, entityType, login))
}

// GetByID fetches an account by its primary key.
func (r *AccountRepository) GetByID(ctx context.Context, id uint64) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// GetByEmail fetches an account by email within an entity type. Only
// accounts with a verified lookup value should reach this; the caller
// decides whether an email match is trustworthy.
func (r *AccountRepository) GetByEmail(ctx context.Context, entityType, email string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE entity_type = $1 AND email = $2`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, entityType, email))
}

// GetBySSOSubject fetches the account linked to an external identity
// provider subject.
func (r *AccountRepository) GetBySSOSubject(ctx context.Context, subject string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE sso_subject = $1`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, subject))
}

// Create inserts the account and fills in its generated fields.
func (r *AccountRepository) Create(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (main_account_id, entity_type, login, email, password_hash,
			active, two_factor_secret, sso_subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		a.MainAccountID, a.EntityType, a.Login, a.Email, a.PasswordHash,
		a.Active, a.TwoFactorSecret, a.SSOSubject,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLogin
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Update rewrites the mutable profile fields of an existing account.
func (r *AccountRepository) Update(ctx context.Context, a *Account) error {
	query := `
		UPDATE accounts
		SET login = $2, email = $3, active = $4, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, a.ID, a.Login, a.Email, a.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLogin
		}
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLoginAttempt persists the outcome of a credential check. A
// failure increments the counter in SQL so concurrent failures are all
// counted; a success resets it. Both stamp the attempt time.
func (r *AccountRepository) RecordLoginAttempt(ctx context.Context, id uint64, success bool) error {
	var query string
	if success {
		query = `UPDATE accounts SET failed_login_attempts = 0, last_login_attempt = NOW() WHERE id = $1`
	} else {
		query = `UPDATE accounts SET failed_login_attempts = failed_login_attempts + 1, last_login_attempt = NOW() WHERE id = $1`
	}
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePassword stores a new credential. Any outstanding reset token
// is left in place; it stays redeemable until its expiry.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResetToken stores a password reset token and its expiry.
func (r *AccountRepository) SaveResetToken(ctx context.Context, id uint64, token string, expiresAt time.Time) error {
	query := `
		UPDATE accounts
		SET reset_token = $2, reset_token_expires_at = $3, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateResetToken fetches the account only when the token matches
// and has not expired.
func (r *AccountRepository) ValidateResetToken(ctx context.Context, id uint64, token string) (*Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE id = $1 AND reset_token = $2 AND reset_token_expires_at > NOW()`, accountColumns)
	return scanAccount(r.db.QueryRow(ctx, query, id, token))
}

// SaveTwoFactorSecret stores a generated authenticator secret.
func (r *AccountRepository) SaveTwoFactorSecret(ctx context.Context, id uint64, secret string) error {
	query := `UPDATE accounts SET two_factor_secret = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, secret)
	if err != nil {
		return fmt.Errorf("save two-factor secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachSSOSubject links an external identity provider subject to an
// existing account.
func (r *AccountRepository) AttachSSOSubject(ctx context.Context, id uint64, subject string) error {
	query := `UPDATE accounts SET sso_subject = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, subject)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attach sso subject: %w", ErrDuplicateLogin)
		}
		return fmt.Errorf("attach sso subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
