package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/velstra/corecms/internal/mailer"
	"github.com/velstra/corecms/internal/replacer"
	"github.com/velstra/corecms/internal/repository"
)

// captureMailer records outbound messages instead of sending them.
type captureMailer struct {
	messages []mailer.Message
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

type resetFixture struct {
	flow     *ResetFlow
	accounts *fakeAccountStore
	mail     *captureMailer
	verifier *Verifier
}

func newResetFixture(t *testing.T, cfg ResetFlowConfig) *resetFixture {
	t.Helper()
	if cfg.EntityType == "" {
		cfg.EntityType = "account"
	}
	if cfg.ResetURL == "" {
		cfg.ResetURL = "https://shop.example.com/reset?user={userId}&token={token}"
	}
	if cfg.MailSubject == "" {
		cfg.MailSubject = "Reset your password"
	}
	if cfg.MailBody == "" {
		cfg.MailBody = "{url}"
	}

	accounts := newFakeAccountStore()
	mail := &captureMailer{}
	verifier := &Verifier{iterations: 1000}
	codec, err := NewCodec(testKey('r'))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	flow, err := NewResetFlow(cfg, accounts, verifier, codec, mail, replacer.Replace, discardLogger())
	if err != nil {
		t.Fatalf("NewResetFlow failed: %v", err)
	}
	return &resetFixture{flow: flow, accounts: accounts, mail: mail, verifier: verifier}
}

func (f *resetFixture) addAccount(t *testing.T, login, password string) *repository.Account {
	t.Helper()
	hash, err := f.verifier.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return f.accounts.add(&repository.Account{
		EntityType:   "account",
		Login:        login,
		Email:        login,
		PasswordHash: &hash,
		Active:       true,
	})
}

// mailedLink returns the user reference and token carried by the last
// reset mail.
func (f *resetFixture) mailedLink(t *testing.T) (user, token string) {
	t.Helper()
	if len(f.mail.messages) == 0 {
		t.Fatal("no reset mail was sent")
	}
	link, err := url.Parse(f.mail.messages[len(f.mail.messages)-1].Body)
	if err != nil {
		t.Fatalf("mailed link does not parse: %v", err)
	}
	q := link.Query()
	return q.Get("user"), q.Get("token")
}

func TestResetFlow_IssueAndRedeem(t *testing.T) {
	f := newResetFixture(t, ResetFlowConfig{TokenValidity: time.Hour})
	account := f.addAccount(t, "bob@example.com", "old-password")

	if err := f.flow.Issue(context.Background(), "bob@example.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if f.mail.messages[0].To != "bob@example.com" {
		t.Errorf("mail went to %q", f.mail.messages[0].To)
	}
	user, token := f.mailedLink(t)

	result := f.flow.Redeem(context.Background(), user, token, "new-password", "new-password")
	if result != ResetSuccess {
		t.Fatalf("got %s, want success", result)
	}
	ok, err := f.verifier.Verify("new-password", *account.PasswordHash)
	if err != nil || !ok {
		t.Errorf("new password does not verify (ok=%v, err=%v)", ok, err)
	}

	// The token is not consumed on use; it stays valid until expiry.
	result = f.flow.Redeem(context.Background(), user, token, "another-password", "another-password")
	if result != ResetSuccess {
		t.Errorf("replay within validity: got %s, want success", result)
	}
}

func TestResetFlow_IssueUnknownLoginIsSilent(t *testing.T) {
	f := newResetFixture(t, ResetFlowConfig{TokenValidity: time.Hour})

	if err := f.flow.Issue(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("Issue for unknown login must not error, got %v", err)
	}
	if len(f.mail.messages) != 0 {
		t.Errorf("expected no mail, got %d", len(f.mail.messages))
	}
}

func TestResetFlow_RedeemRejectsBadInput(t *testing.T) {
	f := newResetFixture(t, ResetFlowConfig{
		TokenValidity:   time.Hour,
		PasswordPattern: `^.{8,}$`,
	})
	f.addAccount(t, "bob@example.com", "old-password")
	if err := f.flow.Issue(context.Background(), "bob@example.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	user, token := f.mailedLink(t)

	tests := []struct {
		name           string
		user, token    string
		pass, repeat   string
		want           ResetResult
	}{
		{"empty password", user, token, "", "", ResetEmptyPassword},
		{"passwords differ", user, token, "new-password", "other-password", ResetPasswordsNotTheSame},
		{"password too weak", user, token, "short", "short", ResetPasswordNotSecure},
		{"wrong token", user, "bogus-token", "new-password", "new-password", ResetInvalidTokenOrUser},
		{"garbage user reference", "garbage", token, "new-password", "new-password", ResetInvalidTokenOrUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.flow.Redeem(context.Background(), tt.user, tt.token, tt.pass, tt.repeat)
			if result != tt.want {
				t.Errorf("got %s, want %s", result, tt.want)
			}
		})
	}
}

func TestResetFlow_ExpiredTokenRejected(t *testing.T) {
	f := newResetFixture(t, ResetFlowConfig{})
	account := f.addAccount(t, "bob@example.com", "old-password")
	if err := f.flow.Issue(context.Background(), "bob@example.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	user, token := f.mailedLink(t)

	past := time.Now().Add(-time.Second)
	account.ResetTokenExpiresAt = &past

	result := f.flow.Redeem(context.Background(), user, token, "new-password", "new-password")
	if result != ResetInvalidTokenOrUser {
		t.Errorf("got %s, want invalid_token_or_user", result)
	}
}

func TestResetFlow_ChangePassword(t *testing.T) {
	f := newResetFixture(t, ResetFlowConfig{})
	account := f.addAccount(t, "bob@example.com", "old-password")

	result := f.flow.ChangePassword(context.Background(), account.ID, "wrong", "new-password", "new-password")
	if result != ResetOldPasswordInvalid {
		t.Fatalf("wrong old password: got %s, want old_password_invalid", result)
	}

	result = f.flow.ChangePassword(context.Background(), account.ID, "old-password", "new-password", "new-password")
	if result != ResetSuccess {
		t.Fatalf("got %s, want success", result)
	}
	ok, err := f.verifier.Verify("new-password", *account.PasswordHash)
	if err != nil || !ok {
		t.Errorf("new password does not verify (ok=%v, err=%v)", ok, err)
	}

	result = f.flow.ChangePassword(context.Background(), 99999, "old-password", "x", "x")
	if result != ResetInvalidTokenOrUser {
		t.Errorf("unknown account: got %s, want invalid_token_or_user", result)
	}
}
