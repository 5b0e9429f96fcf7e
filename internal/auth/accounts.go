package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/velstra/corecms/internal/metrics"
	"github.com/velstra/corecms/internal/replacer"
	"github.com/velstra/corecms/internal/repository"
)

// TxExecutor runs a function inside a transaction, restarting it on
// transient contention. It is satisfied by *database.TxRunner.
type TxExecutor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// StoreFactory builds transaction-bound stores. The production
// implementation wraps the pgx repositories; tests substitute fakes.
type StoreFactory interface {
	AccountsWithTx(tx pgx.Tx) AccountStore
	RolesWithTx(tx pgx.Tx) RoleStore
}

// PgxStoreFactory is the production StoreFactory.
type PgxStoreFactory struct{}

func (PgxStoreFactory) AccountsWithTx(tx pgx.Tx) AccountStore {
	return repository.NewAccountRepository(tx)
}

func (PgxStoreFactory) RolesWithTx(tx pgx.Tx) RoleStore {
	return repository.NewRoleRepository(tx)
}

// SaveRequest is one create-or-update of an account. A zero AccountID
// means create; MainAccountID is set when saving a sub-account.
type SaveRequest struct {
	AccountID     uint64
	MainAccountID *uint64
	Login         string
	Email         string
	Password      string // empty leaves the stored credential untouched
	Active        bool
	Roles         []string
}

// AccountManager performs account create-or-update inside a retryable
// transaction: uniqueness check, insert or update, optional credential
// change, and role-set reconciliation.
type AccountManager struct {
	runner          TxExecutor
	stores          StoreFactory
	verifier        *Verifier
	replaceFunc     replacer.Func
	logger          *slog.Logger
	entityType      string
	uniquenessQuery string
	passwordRe      *regexp.Regexp
}

// AccountManagerConfig carries the deployment settings for
// AccountManager. UniquenessQuery, when set, overrides the default
// login-based existence check; it gets {login} and {email} substituted
// and must return at least one row when the account already exists.
type AccountManagerConfig struct {
	EntityType      string
	UniquenessQuery string
	PasswordPattern string
}

// NewAccountManager creates a new AccountManager instance
func NewAccountManager(cfg AccountManagerConfig, runner TxExecutor, stores StoreFactory, verifier *Verifier, replaceFunc replacer.Func, logger *slog.Logger) (*AccountManager, error) {
	var passwordRe *regexp.Regexp
	if cfg.PasswordPattern != "" {
		var err error
		passwordRe, err = regexp.Compile(cfg.PasswordPattern)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid password pattern: %w", err)
		}
	}
	return &AccountManager{
		runner:          runner,
		stores:          stores,
		verifier:        verifier,
		replaceFunc:     replaceFunc,
		logger:          logger,
		entityType:      cfg.EntityType,
		uniquenessQuery: cfg.UniquenessQuery,
		passwordRe:      passwordRe,
	}, nil
}

// CreateOrUpdate saves the account and reconciles its roles. The whole
// body runs inside one transaction and is restarted from the top when
// the database reports a deadlock or serialization failure, so partial
// state never straddles attempts. Expected outcomes come back as the
// SaveResult; the error return is reserved for infrastructure faults.
func (m *AccountManager) CreateOrUpdate(ctx context.Context, req SaveRequest) (SaveResult, *repository.Account, error) {
	if req.AccountID == 0 && req.Password == "" {
		return SaveInvalidPassword, nil, nil
	}
	if req.Password != "" && m.passwordRe != nil && !m.passwordRe.MatchString(req.Password) {
		return SaveInvalidPassword, nil, nil
	}

	// Hashing is pure, so doing it once outside the retry loop keeps
	// retried attempts cheap and deterministic.
	var hash string
	if req.Password != "" {
		var err error
		hash, err = m.verifier.Hash(req.Password)
		if err != nil {
			return SaveSuccess, nil, err
		}
	}

	var (
		result  = SaveSuccess
		account *repository.Account
	)
	err := m.runner.WithinTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		// Reset outputs: the body may run more than once.
		result = SaveSuccess
		account = nil

		accounts := m.stores.AccountsWithTx(tx)
		roles := m.stores.RolesWithTx(tx)

		if req.AccountID == 0 {
			exists, err := m.loginTaken(ctx, tx, accounts, req)
			if err != nil {
				return err
			}
			if exists {
				result = SaveUserAlreadyExists
				return nil
			}
			account = &repository.Account{
				MainAccountID: req.MainAccountID,
				EntityType:    m.entityType,
				Login:         req.Login,
				Email:         req.Email,
				Active:        req.Active,
			}
			if err := accounts.Create(ctx, account); err != nil {
				if errors.Is(err, repository.ErrDuplicateLogin) {
					result = SaveUserAlreadyExists
					return nil
				}
				return err
			}
		} else {
			existing, err := accounts.GetByID(ctx, req.AccountID)
			if err != nil {
				return err
			}
			existing.Login = req.Login
			existing.Email = req.Email
			existing.Active = req.Active
			if err := accounts.Update(ctx, existing); err != nil {
				if errors.Is(err, repository.ErrDuplicateLogin) {
					result = SaveUserAlreadyExists
					return nil
				}
				return err
			}
			account = existing
		}

		if hash != "" {
			if err := accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
				return err
			}
		}

		return m.reconcileRoles(ctx, roles, account.ID, req.Roles)
	})
	if err != nil {
		return SaveSuccess, nil, err
	}

	if result == SaveSuccess && req.AccountID == 0 && account != nil {
		origin := "local"
		if req.MainAccountID != nil {
			origin = "sub_account"
		}
		metrics.AccountsCreated.WithLabelValues(origin).Inc()
		m.logger.InfoContext(ctx, "account created", slog.Uint64("account_id", account.ID))
	}
	return result, account, nil
}

// loginTaken runs the existence check: the configured uniqueness query
// when one is set, otherwise a login lookup. The {login} and {email}
// placeholders become bind parameters, so the request values never
// enter the SQL text.
func (m *AccountManager) loginTaken(ctx context.Context, tx pgx.Tx, accounts AccountStore, req SaveRequest) (bool, error) {
	if m.uniquenessQuery != "" {
		placeholders := make(map[string]string, 2)
		var args []any
		lowered := strings.ToLower(m.uniquenessQuery)
		for _, p := range []struct{ name, value string }{
			{"login", req.Login},
			{"email", req.Email},
		} {
			if strings.Contains(lowered, "{"+p.name+"}") {
				args = append(args, p.value)
				placeholders[p.name] = fmt.Sprintf("$%d", len(args))
			}
		}
		query := m.replaceFunc(m.uniquenessQuery, placeholders)
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return false, fmt.Errorf("auth: uniqueness query: %w", err)
		}
		defer rows.Close()
		return rows.Next(), rows.Err()
	}

	_, err := accounts.GetByLogin(ctx, m.entityType, req.Login)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// reconcileRoles resolves the desired role names and diffs them against
// the stored links. Unknown names are dropped by the lookup.
func (m *AccountManager) reconcileRoles(ctx context.Context, roles RoleStore, accountID uint64, desired []string) error {
	resolved, err := roles.GetByNames(ctx, desired)
	if err != nil {
		return err
	}
	ids := make([]uint64, 0, len(resolved))
	for _, role := range resolved {
		ids = append(ids, role.ID)
	}
	return roles.Reconcile(ctx, accountID, ids)
}
