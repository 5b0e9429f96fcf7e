package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/velstra/corecms/internal/mailer"
	"github.com/velstra/corecms/internal/metrics"
	"github.com/velstra/corecms/internal/replacer"
	"github.com/velstra/corecms/internal/repository"
)

const resetTokenBytes = 129

// neverExpires stands in for "no expiry" when the configured validity
// is zero.
var neverExpires = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// ResetFlow issues password reset tokens by email and redeems them, and
// handles password changes for logged-in users.
type ResetFlow struct {
	accounts      AccountStore
	verifier      *Verifier
	codec         *Codec
	mail          mailer.Mailer
	replaceFunc   replacer.Func
	logger        *slog.Logger
	entityType    string
	tokenValidity time.Duration
	resetURL      string
	mailSubject   string
	mailBody      string
	mailSender    string
	passwordRe    *regexp.Regexp
}

// ResetFlowConfig carries the deployment settings for ResetFlow.
type ResetFlowConfig struct {
	EntityType      string
	TokenValidity   time.Duration // zero means tokens never expire
	ResetURL        string        // template with {userId}, {token}, {login}
	MailSubject     string
	MailBody        string // template with {url}, {login}
	MailSender      string
	PasswordPattern string // empty disables the strength check
}

// NewResetFlow creates a new ResetFlow instance
func NewResetFlow(cfg ResetFlowConfig, accounts AccountStore, verifier *Verifier, codec *Codec, mail mailer.Mailer, replaceFunc replacer.Func, logger *slog.Logger) (*ResetFlow, error) {
	var passwordRe *regexp.Regexp
	if cfg.PasswordPattern != "" {
		var err error
		passwordRe, err = regexp.Compile(cfg.PasswordPattern)
		if err != nil {
			return nil, fmt.Errorf("auth: invalid password pattern: %w", err)
		}
	}
	return &ResetFlow{
		accounts:      accounts,
		verifier:      verifier,
		codec:         codec,
		mail:          mail,
		replaceFunc:   replaceFunc,
		logger:        logger,
		entityType:    cfg.EntityType,
		tokenValidity: cfg.TokenValidity,
		resetURL:      cfg.ResetURL,
		mailSubject:   cfg.MailSubject,
		mailBody:      cfg.MailBody,
		mailSender:    cfg.MailSender,
		passwordRe:    passwordRe,
	}, nil
}

// Issue generates a reset token for the account with the given login
// and mails the reset link. An unknown login is logged and swallowed so
// the endpoint cannot be used to probe which accounts exist.
func (f *ResetFlow) Issue(ctx context.Context, login string) error {
	account, err := f.accounts.GetByLogin(ctx, f.entityType, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			f.logger.InfoContext(ctx, "reset requested for unknown login")
			return nil
		}
		return err
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("auth: generate reset token: %w", err)
	}
	token := base64.StdEncoding.EncodeToString(raw)

	expiresAt := neverExpires
	if f.tokenValidity > 0 {
		expiresAt = time.Now().Add(f.tokenValidity)
	}
	if err := f.accounts.SaveResetToken(ctx, account.ID, token, expiresAt); err != nil {
		return err
	}

	encryptedID, err := f.codec.EncryptWithTimestamp(strconv.FormatUint(account.ID, 10))
	if err != nil {
		return err
	}
	link := f.replaceFunc(f.resetURL, map[string]string{
		"userId": url.QueryEscape(encryptedID),
		"token":  url.QueryEscape(token),
		"login":  url.QueryEscape(account.Login),
	})
	body := f.replaceFunc(f.mailBody, map[string]string{
		"url":   link,
		"login": account.Login,
	})

	if err := f.mail.Send(ctx, mailer.Message{
		To:      account.Email,
		Subject: f.mailSubject,
		Body:    body,
		Sender:  f.mailSender,
	}); err != nil {
		return fmt.Errorf("auth: send reset mail: %w", err)
	}

	metrics.ResetTokensIssued.Inc()
	f.logger.InfoContext(ctx, "reset token issued", slog.Uint64("account_id", account.ID))
	return nil
}

// Redeem validates a reset token and sets the new password. The
// encrypted user reference is the value the reset link carried; tokens
// stay redeemable until expiry.
func (f *ResetFlow) Redeem(ctx context.Context, encryptedUserID, token, newPassword, repeatPassword string) ResetResult {
	result := f.redeem(ctx, encryptedUserID, token, newPassword, repeatPassword)
	metrics.ResetRedemptions.WithLabelValues(result.String()).Inc()
	return result
}

func (f *ResetFlow) redeem(ctx context.Context, encryptedUserID, token, newPassword, repeatPassword string) ResetResult {
	if result := f.checkNewPassword(newPassword, repeatPassword); result != ResetSuccess {
		return result
	}

	maxAge := f.tokenValidity
	idValue, err := f.codec.DecryptWithTimestamp(encryptedUserID, maxAge)
	if err != nil {
		return ResetInvalidTokenOrUser
	}
	accountID, err := strconv.ParseUint(idValue, 10, 64)
	if err != nil {
		return ResetInvalidTokenOrUser
	}

	account, err := f.accounts.ValidateResetToken(ctx, accountID, token)
	if err != nil {
		return ResetInvalidTokenOrUser
	}

	return f.storePassword(ctx, account.ID, newPassword)
}

// ChangePassword sets a new password for a logged-in account after
// verifying the old one.
func (f *ResetFlow) ChangePassword(ctx context.Context, accountID uint64, oldPassword, newPassword, repeatPassword string) ResetResult {
	if result := f.checkNewPassword(newPassword, repeatPassword); result != ResetSuccess {
		return result
	}

	account, err := f.accounts.GetByID(ctx, accountID)
	if err != nil {
		return ResetInvalidTokenOrUser
	}
	if !account.HasPassword() {
		return ResetOldPasswordInvalid
	}
	ok, err := f.verifier.Verify(oldPassword, *account.PasswordHash)
	if err != nil || !ok {
		return ResetOldPasswordInvalid
	}

	return f.storePassword(ctx, account.ID, newPassword)
}

func (f *ResetFlow) checkNewPassword(newPassword, repeatPassword string) ResetResult {
	if newPassword == "" || repeatPassword == "" {
		return ResetEmptyPassword
	}
	if newPassword != repeatPassword {
		return ResetPasswordsNotTheSame
	}
	if f.passwordRe != nil && !f.passwordRe.MatchString(newPassword) {
		return ResetPasswordNotSecure
	}
	return ResetSuccess
}

func (f *ResetFlow) storePassword(ctx context.Context, accountID uint64, newPassword string) ResetResult {
	hash, err := f.verifier.Hash(newPassword)
	if err != nil {
		f.logger.ErrorContext(ctx, "hash new password", slog.String("error", err.Error()))
		return ResetInvalidTokenOrUser
	}
	if err := f.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		f.logger.ErrorContext(ctx, "store new password", slog.String("error", err.Error()))
		return ResetInvalidTokenOrUser
	}
	return ResetSuccess
}
