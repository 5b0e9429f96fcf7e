package auth

import (
	"context"
	"sync"
	"time"

	"github.com/velstra/corecms/internal/repository"
)

// Mock implementations for testing

// fakeAccountStore implements AccountStore in memory
type fakeAccountStore struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*repository.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{
		nextID: 1,
		byID:   make(map[uint64]*repository.Account),
	}
}

func (f *fakeAccountStore) add(a *repository.Account) *repository.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		a.ID = f.nextID
		f.nextID++
	} else if a.ID >= f.nextID {
		f.nextID = a.ID + 1
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	f.byID[a.ID] = a
	return a
}

func (f *fakeAccountStore) GetByLogin(_ context.Context, entityType, login string) (*repository.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.EntityType == entityType && a.Login == login {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) GetByID(_ context.Context, id uint64) (*repository.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byID[id]; ok {
		return a, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) GetByEmail(_ context.Context, entityType, email string) (*repository.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.EntityType == entityType && a.Email == email {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) GetBySSOSubject(_ context.Context, subject string) (*repository.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.SSOSubject != nil && *a.SSOSubject == subject {
			return a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAccountStore) Create(_ context.Context, a *repository.Account) error {
	f.mu.Lock()
	for _, existing := range f.byID {
		if existing.EntityType == a.EntityType && existing.Login == a.Login {
			f.mu.Unlock()
			return repository.ErrDuplicateLogin
		}
	}
	f.mu.Unlock()
	f.add(a)
	return nil
}

func (f *fakeAccountStore) Update(_ context.Context, a *repository.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, other := range f.byID {
		if other.ID != a.ID && other.EntityType == a.EntityType && other.Login == a.Login {
			return repository.ErrDuplicateLogin
		}
	}
	stored.Login = a.Login
	stored.Email = a.Email
	stored.Active = a.Active
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeAccountStore) RecordLoginAttempt(_ context.Context, id uint64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	if success {
		a.FailedLoginAttempts = 0
	} else {
		a.FailedLoginAttempts++
	}
	a.LastLoginAttempt = &now
	return nil
}

func (f *fakeAccountStore) UpdatePassword(_ context.Context, id uint64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.PasswordHash = &hash
	return nil
}

func (f *fakeAccountStore) SaveResetToken(_ context.Context, id uint64, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.ResetToken = &token
	a.ResetTokenExpiresAt = &expiresAt
	return nil
}

func (f *fakeAccountStore) ValidateResetToken(_ context.Context, id uint64, token string) (*repository.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok || a.ResetToken == nil || *a.ResetToken != token {
		return nil, repository.ErrNotFound
	}
	if a.ResetTokenExpiresAt == nil || !a.ResetTokenExpiresAt.After(time.Now()) {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccountStore) SaveTwoFactorSecret(_ context.Context, id uint64, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.TwoFactorSecret = &secret
	return nil
}

func (f *fakeAccountStore) AttachSSOSubject(_ context.Context, id uint64, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.SSOSubject = &subject
	return nil
}

// fakeRoleStore implements RoleStore in memory
type fakeRoleStore struct {
	mu    sync.Mutex
	roles map[uint64]string   // role id -> name
	links map[uint64][]uint64 // account id -> role ids
}

func newFakeRoleStore(names ...string) *fakeRoleStore {
	f := &fakeRoleStore{
		roles: make(map[uint64]string),
		links: make(map[uint64][]uint64),
	}
	for i, name := range names {
		f.roles[uint64(i+1)] = name
	}
	return f
}

func (f *fakeRoleStore) GetByNames(_ context.Context, names []string) ([]repository.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Role
	for _, name := range names {
		for id, stored := range f.roles {
			if stored == name {
				out = append(out, repository.Role{ID: id, Name: stored})
			}
		}
	}
	return out, nil
}

func (f *fakeRoleStore) GetForAccount(_ context.Context, accountID uint64) ([]repository.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Role
	for _, id := range f.links[accountID] {
		out = append(out, repository.Role{ID: id, Name: f.roles[id]})
	}
	return out, nil
}

func (f *fakeRoleStore) Reconcile(_ context.Context, accountID uint64, desired []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[accountID] = append([]uint64(nil), desired...)
	return nil
}

// fakePunchOutStore implements PunchOutStore in memory
type fakePunchOutStore struct {
	mu       sync.Mutex
	nextID   uint64
	sessions []*repository.PunchOutSession
}

func newFakePunchOutStore() *fakePunchOutStore {
	return &fakePunchOutStore{nextID: 1}
}

func (f *fakePunchOutStore) Create(_ context.Context, s *repository.PunchOutSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.nextID
	f.nextID++
	s.CreatedAt = time.Now().UTC()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakePunchOutStore) GetByBuyerCookie(_ context.Context, cookie string) (*repository.PunchOutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sessions) - 1; i >= 0; i-- {
		if f.sessions[i].BuyerCookie == cookie {
			return f.sessions[i], nil
		}
	}
	return nil, repository.ErrNotFound
}
