package auth

import (
	"context"
	"time"

	"github.com/velstra/corecms/internal/repository"
)

// AccountStore is the account persistence the flows need. It is
// satisfied by *repository.AccountRepository.
type AccountStore interface {
	GetByLogin(ctx context.Context, entityType, login string) (*repository.Account, error)
	GetByID(ctx context.Context, id uint64) (*repository.Account, error)
	GetByEmail(ctx context.Context, entityType, email string) (*repository.Account, error)
	GetBySSOSubject(ctx context.Context, subject string) (*repository.Account, error)
	Create(ctx context.Context, a *repository.Account) error
	Update(ctx context.Context, a *repository.Account) error
	RecordLoginAttempt(ctx context.Context, id uint64, success bool) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	SaveResetToken(ctx context.Context, id uint64, token string, expiresAt time.Time) error
	ValidateResetToken(ctx context.Context, id uint64, token string) (*repository.Account, error)
	SaveTwoFactorSecret(ctx context.Context, id uint64, secret string) error
	AttachSSOSubject(ctx context.Context, id uint64, subject string) error
}

// RoleStore is the role lookup and reconciliation the flows need. It
// is satisfied by *repository.RoleRepository.
type RoleStore interface {
	GetByNames(ctx context.Context, names []string) ([]repository.Role, error)
	GetForAccount(ctx context.Context, accountID uint64) ([]repository.Role, error)
	Reconcile(ctx context.Context, accountID uint64, desired []uint64) error
}

// PunchOutStore persists accepted procurement handshakes. It is
// satisfied by *repository.PunchOutRepository.
type PunchOutStore interface {
	Create(ctx context.Context, s *repository.PunchOutSession) error
	GetByBuyerCookie(ctx context.Context, cookie string) (*repository.PunchOutSession, error)
}
