package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/velstra/corecms/internal/metrics"
	"github.com/velstra/corecms/internal/repository"
)

// LoginMode selects between the one-shot and the multi-step login
// negotiation.
type LoginMode int

const (
	// ModeSingleStep takes login and password in one request and never
	// discloses whether the login exists.
	ModeSingleStep LoginMode = iota
	// ModeMultiStep takes the login first and the password on a later
	// step; it deliberately discloses account existence for better UX.
	ModeMultiStep
)

func (m LoginMode) String() string {
	if m == ModeMultiStep {
		return "multi_step"
	}
	return "single_step"
}

// LoginRequest carries everything one login attempt submitted.
type LoginRequest struct {
	ComponentID        string
	Mode               LoginMode
	Step               LoginStep
	Login              string
	Password           string
	TwoFactorCode      string
	EncryptedAccountID string
	ValidationToken    string
}

// LoginOutcome is the state machine's answer for one attempt.
type LoginOutcome struct {
	Result       LoginResult
	Step         LoginStep
	Account      *repository.Account
	CookieValue  string
	TwoFactorURI string
}

// LoginFlow is the login state machine. It gates attempts through the
// lockout policy, verifies credentials and one-time codes, remembers
// the login between steps of a multi-step flow, and mints the session
// token on success.
type LoginFlow struct {
	accounts        AccountStore
	roles           RoleStore
	lockout         LockoutPolicy
	verifier        *Verifier
	totp            *TOTPManager
	tokens          *TokenCodec
	sessions        SessionStore
	logger          *slog.Logger
	entityType      string
	enableTwoFactor bool
	validationToken string
	stepTTL         time.Duration
}

// LoginFlowConfig carries the deployment settings for LoginFlow.
type LoginFlowConfig struct {
	EntityType      string
	EnableTwoFactor bool
	ValidationToken string
	StepTTL         time.Duration
}

// NewLoginFlow creates a new LoginFlow instance
func NewLoginFlow(cfg LoginFlowConfig, accounts AccountStore, roles RoleStore, lockout LockoutPolicy, verifier *Verifier, totp *TOTPManager, tokens *TokenCodec, sessions SessionStore, logger *slog.Logger) *LoginFlow {
	stepTTL := cfg.StepTTL
	if stepTTL <= 0 {
		stepTTL = 15 * time.Minute
	}
	return &LoginFlow{
		accounts:        accounts,
		roles:           roles,
		lockout:         lockout,
		verifier:        verifier,
		totp:            totp,
		tokens:          tokens,
		sessions:        sessions,
		logger:          logger,
		entityType:      cfg.EntityType,
		enableTwoFactor: cfg.EnableTwoFactor,
		validationToken: cfg.ValidationToken,
		stepTTL:         stepTTL,
	}
}

// Login runs one attempt through the state machine. Expected outcomes
// come back in the LoginOutcome; the error return is reserved for
// infrastructure faults.
func (f *LoginFlow) Login(ctx context.Context, req LoginRequest) (LoginOutcome, error) {
	outcome, err := f.login(ctx, req)
	if err == nil {
		metrics.LoginAttemptsTotal.WithLabelValues(req.Mode.String(), outcome.Result.String()).Inc()
	}
	return outcome, err
}

func (f *LoginFlow) login(ctx context.Context, req LoginRequest) (LoginOutcome, error) {
	if req.EncryptedAccountID != "" {
		return f.loginWithEncryptedID(ctx, req)
	}

	login := req.Login
	if login == "" && req.Mode == ModeMultiStep && req.Step > StepInitial {
		remembered, err := f.sessions.Get(ctx, LoginValueKey(req.ComponentID))
		switch {
		case err == nil:
			login = remembered
		case errors.Is(err, ErrSessionNotFound):
			// Step state expired; fall through to the empty-login path.
		default:
			return LoginOutcome{}, fmt.Errorf("auth: read remembered login: %w", err)
		}
	}
	if login == "" {
		return f.fail(req, LoginInvalidUsernameOrPassword), nil
	}

	account, err := f.accounts.GetByLogin(ctx, f.entityType, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if req.Mode == ModeMultiStep {
				return f.fail(req, LoginUserDoesNotExist), nil
			}
			return f.fail(req, LoginInvalidUsernameOrPassword), nil
		}
		return LoginOutcome{}, err
	}

	if outcome, done := f.gate(ctx, req, account); done {
		return outcome, nil
	}

	// Identifier-only step of the multi-step flow: remember the login
	// and advance without ever looking at the password field.
	if req.Mode == ModeMultiStep && req.Step <= StepInitial {
		if err := f.sessions.Set(ctx, LoginValueKey(req.ComponentID), account.Login, f.stepTTL); err != nil {
			return LoginOutcome{}, err
		}
		return LoginOutcome{Result: LoginSuccess, Step: StepPassword, Account: account}, nil
	}

	// A pending-verification marker means the password stage already
	// passed on an earlier request; only the one-time code is due now.
	if f.enableTwoFactor && req.ComponentID != "" {
		marker, err := f.sessions.Get(ctx, TwoFactorPendingKey(req.ComponentID))
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return LoginOutcome{}, fmt.Errorf("auth: read verification marker: %w", err)
		}
		if err == nil && marker == strconv.FormatUint(account.ID, 10) {
			if req.TwoFactorCode == "" || account.TwoFactorSecret == nil ||
				!f.totp.Validate(req.TwoFactorCode, *account.TwoFactorSecret) {
				metrics.TwoFactorValidations.WithLabelValues("invalid").Inc()
				return f.fail(req, LoginInvalidTwoFactorCode), nil
			}
			metrics.TwoFactorValidations.WithLabelValues("valid").Inc()
			return f.succeed(ctx, req, account)
		}
	}

	ok, err := f.verifier.Verify(req.Password, *account.PasswordHash)
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("auth: verify credential for account %d: %w", account.ID, err)
	}
	if !ok {
		if err := f.accounts.RecordLoginAttempt(ctx, account.ID, false); err != nil {
			f.logger.ErrorContext(ctx, "record failed attempt", slog.String("error", err.Error()))
		}
		if req.Mode == ModeMultiStep {
			return f.fail(req, LoginInvalidPassword), nil
		}
		return f.fail(req, LoginInvalidUsernameOrPassword), nil
	}

	if f.enableTwoFactor {
		if outcome, done, err := f.secondFactor(ctx, req, account); done || err != nil {
			return outcome, err
		}
	}

	return f.succeed(ctx, req, account)
}

// loginWithEncryptedID handles the federation and punch-out
// continuation path: an encrypted account reference plus the realm's
// validation token stand in for the credential.
func (f *LoginFlow) loginWithEncryptedID(ctx context.Context, req LoginRequest) (LoginOutcome, error) {
	idValue, err := f.tokens.codec.DecryptWithTimestamp(req.EncryptedAccountID, f.tokens.maxAge)
	if err != nil {
		return f.fail(req, LoginInvalidUserID), nil
	}
	accountID, err := strconv.ParseUint(idValue, 10, 64)
	if err != nil || accountID == 0 {
		return f.fail(req, LoginInvalidUserID), nil
	}
	if f.validationToken == "" || req.ValidationToken != f.validationToken {
		return f.fail(req, LoginInvalidValidationToken), nil
	}

	account, err := f.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return f.fail(req, LoginInvalidUserID), nil
		}
		return LoginOutcome{}, err
	}

	if outcome, done := f.gate(ctx, req, account); done {
		return outcome, nil
	}
	return f.succeed(ctx, req, account)
}

// gate applies the checks that run before any credential comparison:
// lockout first, then activation. Lockout is evaluated strictly before
// the password so a locked account never learns whether the password
// was right.
func (f *LoginFlow) gate(ctx context.Context, req LoginRequest, account *repository.Account) (LoginOutcome, bool) {
	if f.lockout.IsLocked(account.FailedLoginAttempts, account.LastLoginAttempt, time.Now()) {
		metrics.LockoutsTotal.Inc()
		f.logger.WarnContext(ctx, "login blocked by lockout", slog.Uint64("account_id", account.ID))
		return f.fail(req, LoginTooManyAttempts), true
	}
	if !account.HasPassword() {
		return f.fail(req, LoginUserNotActivated), true
	}
	return LoginOutcome{}, false
}

// secondFactor runs the TOTP stage. The secret is created lazily on the
// first login after two-factor became required, inside the flow itself.
func (f *LoginFlow) secondFactor(ctx context.Context, req LoginRequest, account *repository.Account) (LoginOutcome, bool, error) {
	if account.TwoFactorSecret == nil || *account.TwoFactorSecret == "" {
		secret, uri, err := f.totp.Generate(account.Login)
		if err != nil {
			return LoginOutcome{}, true, err
		}
		if err := f.accounts.SaveTwoFactorSecret(ctx, account.ID, secret); err != nil {
			return LoginOutcome{}, true, err
		}
		metrics.TwoFactorValidations.WithLabelValues("setup_required").Inc()
		f.markTwoFactorPending(ctx, req, account)
		return LoginOutcome{
			Result:       LoginTwoFactorRequired,
			Step:         StepSetup2FA,
			Account:      account,
			TwoFactorURI: uri,
		}, true, nil
	}

	if req.TwoFactorCode == "" {
		metrics.TwoFactorValidations.WithLabelValues("required").Inc()
		f.markTwoFactorPending(ctx, req, account)
		return LoginOutcome{
			Result:  LoginTwoFactorRequired,
			Step:    StepVerify2FA,
			Account: account,
		}, true, nil
	}

	if !f.totp.Validate(req.TwoFactorCode, *account.TwoFactorSecret) {
		metrics.TwoFactorValidations.WithLabelValues("invalid").Inc()
		return f.fail(req, LoginInvalidTwoFactorCode), true, nil
	}
	metrics.TwoFactorValidations.WithLabelValues("valid").Inc()
	return LoginOutcome{}, false, nil
}

func (f *LoginFlow) markTwoFactorPending(ctx context.Context, req LoginRequest, account *repository.Account) {
	if req.ComponentID == "" {
		return
	}
	key := TwoFactorPendingKey(req.ComponentID)
	if err := f.sessions.Set(ctx, key, strconv.FormatUint(account.ID, 10), f.stepTTL); err != nil {
		f.logger.WarnContext(ctx, "mark two-factor pending", slog.String("error", err.Error()))
	}
}

// succeed finishes a fully authenticated attempt: resets the failure
// counter, forgets the multi-step state, and mints the session token.
func (f *LoginFlow) succeed(ctx context.Context, req LoginRequest, account *repository.Account) (LoginOutcome, error) {
	if err := f.accounts.RecordLoginAttempt(ctx, account.ID, true); err != nil {
		return LoginOutcome{}, err
	}
	if req.ComponentID != "" {
		for _, key := range []string{LoginValueKey(req.ComponentID), TwoFactorPendingKey(req.ComponentID)} {
			if err := f.sessions.Delete(ctx, key); err != nil {
				f.logger.WarnContext(ctx, "clear login session", slog.String("error", err.Error()))
			}
		}
	}

	cookieValue, err := f.MintSession(ctx, account)
	if err != nil {
		return LoginOutcome{}, err
	}

	f.logger.InfoContext(ctx, "login succeeded",
		slog.Uint64("account_id", account.ID),
		slog.String("mode", req.Mode.String()))
	return LoginOutcome{
		Result:      LoginSuccess,
		Step:        StepDone,
		Account:     account,
		CookieValue: cookieValue,
	}, nil
}

// MintSession builds the encrypted session token for an account. The
// federation flows reuse it after their own identity exchange.
func (f *LoginFlow) MintSession(ctx context.Context, account *repository.Account) (string, error) {
	mainID := account.ID
	if account.MainAccountID != nil {
		mainID = *account.MainAccountID
	}
	role := ""
	if roles, err := f.roles.GetForAccount(ctx, account.ID); err == nil && len(roles) > 0 {
		role = roles[0].Name
	}
	return f.tokens.Mint(SessionToken{
		AccountID:     account.ID,
		MainAccountID: mainID,
		EntityType:    account.EntityType,
		Role:          role,
	})
}

func (f *LoginFlow) fail(req LoginRequest, result LoginResult) LoginOutcome {
	step := req.Step
	if step <= 0 {
		step = StepInitial
	}
	return LoginOutcome{Result: result, Step: step}
}
