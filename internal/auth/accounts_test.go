package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velstra/corecms/internal/database"
	"github.com/velstra/corecms/internal/replacer"
	"github.com/velstra/corecms/internal/repository"
)

// fakeTxExecutor mimics the transaction runner's restart semantics
// without a database: the body is rerun from the top while it reports
// transient contention.
type fakeTxExecutor struct {
	maxAttempts int
	attempts    int
	tx          pgx.Tx
}

func (e *fakeTxExecutor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var err error
	for i := 0; i < e.maxAttempts; i++ {
		e.attempts++
		err = fn(ctx, e.tx)
		if err == nil || !database.IsRetryable(err) {
			return err
		}
	}
	return err
}

// fakeTx records the one query the uniqueness check issues. The
// embedded interface panics on anything else.
type fakeTx struct {
	pgx.Tx
	rows  *fakeRows
	query string
	args  []any
}

func (t *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.query = sql
	t.args = args
	return t.rows, nil
}

// fakeRows is a pgx.Rows yielding n scanless rows.
type fakeRows struct {
	n int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Scan(...any) error                            { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.n > 0 {
		r.n--
		return true
	}
	return false
}

// fakeStoreFactory hands out the same in-memory stores for every
// transaction.
type fakeStoreFactory struct {
	accounts AccountStore
	roles    RoleStore
}

func (f *fakeStoreFactory) AccountsWithTx(pgx.Tx) AccountStore { return f.accounts }
func (f *fakeStoreFactory) RolesWithTx(pgx.Tx) RoleStore       { return f.roles }

// flakyAccountStore fails the first n Create calls with a deadlock
// before letting them through.
type flakyAccountStore struct {
	AccountStore
	failures int
}

func (f *flakyAccountStore) Create(ctx context.Context, account *repository.Account) error {
	if f.failures > 0 {
		f.failures--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return f.AccountStore.Create(ctx, account)
}

type managerFixture struct {
	manager  *AccountManager
	executor *fakeTxExecutor
	accounts *fakeAccountStore
	roles    *fakeRoleStore
	verifier *Verifier
}

func newManagerFixture(t *testing.T, cfg AccountManagerConfig, wrap func(AccountStore) AccountStore) *managerFixture {
	t.Helper()
	if cfg.EntityType == "" {
		cfg.EntityType = "account"
	}

	accounts := newFakeAccountStore()
	roles := newFakeRoleStore("customer", "admin")
	executor := &fakeTxExecutor{maxAttempts: 3}
	verifier := &Verifier{iterations: 1000}

	var store AccountStore = accounts
	if wrap != nil {
		store = wrap(accounts)
	}

	manager, err := NewAccountManager(cfg, executor, &fakeStoreFactory{accounts: store, roles: roles},
		verifier, replacer.Replace, discardLogger())
	if err != nil {
		t.Fatalf("NewAccountManager failed: %v", err)
	}
	return &managerFixture{manager: manager, executor: executor, accounts: accounts, roles: roles, verifier: verifier}
}

func TestAccountManager_Create(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{}, nil)

	result, account, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login:    "bob@example.com",
		Email:    "bob@example.com",
		Password: "hunter2!",
		Active:   true,
		Roles:    []string{"customer"},
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveSuccess {
		t.Fatalf("got %s, want success", result)
	}
	if account == nil || account.ID == 0 {
		t.Fatal("expected a stored account")
	}
	if account.PasswordHash == nil {
		t.Fatal("expected a stored credential")
	}
	if ok, _ := f.verifier.Verify("hunter2!", *account.PasswordHash); !ok {
		t.Error("stored credential does not verify")
	}
	if links := f.roles.links[account.ID]; len(links) != 1 {
		t.Errorf("role links = %v, want exactly one", links)
	}
}

func TestAccountManager_CreateRequiresPassword(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{PasswordPattern: `^.{8,}$`}, nil)

	result, _, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login: "bob@example.com",
		Email: "bob@example.com",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveInvalidPassword {
		t.Errorf("empty password: got %s, want invalid_password", result)
	}

	result, _, err = f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login:    "bob@example.com",
		Email:    "bob@example.com",
		Password: "short",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveInvalidPassword {
		t.Errorf("weak password: got %s, want invalid_password", result)
	}
	if f.executor.attempts != 0 {
		t.Errorf("invalid input must be rejected before any transaction, ran %d", f.executor.attempts)
	}
}

func TestAccountManager_CreateDuplicateLogin(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{}, nil)
	f.accounts.add(&repository.Account{EntityType: "account", Login: "bob@example.com", Email: "bob@example.com"})

	result, _, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login:    "bob@example.com",
		Email:    "bob2@example.com",
		Password: "hunter2!",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveUserAlreadyExists {
		t.Errorf("got %s, want user_already_exists", result)
	}
}

func TestAccountManager_DeadlockRestartsWholeBody(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{}, func(s AccountStore) AccountStore {
		return &flakyAccountStore{AccountStore: s, failures: 1}
	})

	result, account, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login:    "bob@example.com",
		Email:    "bob@example.com",
		Password: "hunter2!",
		Roles:    []string{"customer"},
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveSuccess {
		t.Fatalf("got %s, want success", result)
	}
	if f.executor.attempts != 2 {
		t.Errorf("attempts = %d, want 2", f.executor.attempts)
	}
	// The retried attempt starts over; exactly one account survives.
	if _, err := f.accounts.GetByID(context.Background(), account.ID); err != nil {
		t.Fatalf("account missing after retry: %v", err)
	}
	if _, err := f.accounts.GetByID(context.Background(), account.ID+1); err == nil {
		t.Error("retry left a duplicate account behind")
	}
}

func TestAccountManager_UniquenessQueryIsParameterized(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{
		UniquenessQuery: "SELECT id FROM accounts WHERE login = {login} OR email = {email}",
	}, nil)
	tx := &fakeTx{rows: &fakeRows{}}
	f.executor.tx = tx

	hostile := "x' OR '1'='1"
	result, _, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login:    hostile,
		Email:    "bob@example.com",
		Password: "hunter2!",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveSuccess {
		t.Fatalf("got %s, want success", result)
	}

	// The request values travel as bind parameters, never as SQL text.
	if strings.Contains(tx.query, hostile) {
		t.Errorf("request value spliced into the query: %q", tx.query)
	}
	want := "SELECT id FROM accounts WHERE login = $1 OR email = $2"
	if tx.query != want {
		t.Errorf("query = %q, want %q", tx.query, want)
	}
	if len(tx.args) != 2 || tx.args[0] != hostile || tx.args[1] != "bob@example.com" {
		t.Errorf("args = %v, want the raw request values", tx.args)
	}
}

func TestAccountManager_UniquenessQueryMatchMeansTaken(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{
		UniquenessQuery: "SELECT id FROM accounts WHERE login = {login}",
	}, nil)
	f.executor.tx = &fakeTx{rows: &fakeRows{n: 1}}

	result, _, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		Login:    "bob@example.com",
		Email:    "bob@example.com",
		Password: "hunter2!",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveUserAlreadyExists {
		t.Errorf("got %s, want user_already_exists", result)
	}
}

func TestAccountManager_Update(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{}, nil)
	hash, _ := f.verifier.Hash("hunter2!")
	existing := f.accounts.add(&repository.Account{
		EntityType:   "account",
		Login:        "bob@example.com",
		Email:        "bob@example.com",
		PasswordHash: &hash,
		Active:       true,
	})
	f.roles.links[existing.ID] = []uint64{1}

	result, account, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		AccountID: existing.ID,
		Login:     "robert@example.com",
		Email:     "robert@example.com",
		Active:    false,
		Roles:     []string{"admin"},
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveSuccess {
		t.Fatalf("got %s, want success", result)
	}
	if account.Login != "robert@example.com" || account.Active {
		t.Errorf("account not updated: %+v", account)
	}
	// Password stays untouched when the request omits it.
	if ok, _ := f.verifier.Verify("hunter2!", *account.PasswordHash); !ok {
		t.Error("existing credential was clobbered")
	}
	// The role set is replaced, not appended to.
	links := f.roles.links[existing.ID]
	if len(links) != 1 || links[0] != 2 {
		t.Errorf("role links = %v, want [2]", links)
	}
}

func TestAccountManager_CreateSubAccount(t *testing.T) {
	f := newManagerFixture(t, AccountManagerConfig{}, nil)
	main := f.accounts.add(&repository.Account{EntityType: "account", Login: "main@example.com", Email: "main@example.com"})

	result, account, err := f.manager.CreateOrUpdate(context.Background(), SaveRequest{
		MainAccountID: &main.ID,
		Login:         "sub@example.com",
		Email:         "sub@example.com",
		Password:      "hunter2!",
	})
	if err != nil {
		t.Fatalf("CreateOrUpdate failed: %v", err)
	}
	if result != SaveSuccess {
		t.Fatalf("got %s, want success", result)
	}
	if account.MainAccountID == nil || *account.MainAccountID != main.ID {
		t.Errorf("main account id = %v, want %d", account.MainAccountID, main.ID)
	}
	if !account.IsSubAccount() {
		t.Error("expected a sub-account")
	}
}
