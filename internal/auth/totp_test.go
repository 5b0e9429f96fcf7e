package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestTOTPManager_GenerateAndValidate(t *testing.T) {
	m := NewTOTPManager("corecms-test")

	secret, uri, err := m.Generate("bob@example.com")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if secret == "" {
		t.Fatal("expected a non-empty secret")
	}
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Errorf("unexpected provisioning URI: %s", uri)
	}
	if !strings.Contains(uri, "corecms-test") {
		t.Errorf("provisioning URI missing issuer: %s", uri)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if !m.Validate(code, secret) {
		t.Error("expected a freshly generated code to validate")
	}
	if m.Validate("000000", secret) && code != "000000" {
		t.Error("expected a wrong code to be rejected")
	}
}

func TestTOTPManager_SecretsDiffer(t *testing.T) {
	m := NewTOTPManager("corecms-test")

	first, _, err := m.Generate("bob@example.com")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	second, _, err := m.Generate("bob@example.com")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if first == second {
		t.Error("two generated secrets must differ")
	}
}
