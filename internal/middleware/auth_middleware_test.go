package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/velstra/corecms/internal/auth"
)

const sessionCookieName = "corecms_session"

func newTestTokenCodec(t *testing.T) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewCodec(bytes.Repeat([]byte{'m'}, 32))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return auth.NewTokenCodec(codec, time.Hour)
}

func mintCookie(t *testing.T, tokens *auth.TokenCodec, accountID uint64) *http.Cookie {
	t.Helper()
	value, err := tokens.Mint(auth.SessionToken{
		AccountID:     accountID,
		MainAccountID: accountID,
		EntityType:    "account",
		Role:          "customer",
	})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: value}
}

func TestAuthenticate_ValidCookie(t *testing.T) {
	tokens := newTestTokenCodec(t)
	mw := NewAuthMiddleware(tokens, sessionCookieName)

	var gotID uint64
	var gotRole string
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = ExtractAccountID(r.Context())
		gotRole, _ = ExtractRole(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(mintCookie(t, tokens, 42))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotID != 42 {
		t.Errorf("account id = %d, want 42", gotID)
	}
	if gotRole != "customer" {
		t.Errorf("role = %q, want customer", gotRole)
	}
}

func TestAuthenticate_MissingCookie(t *testing.T) {
	mw := NewAuthMiddleware(newTestTokenCodec(t), sessionCookieName)
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.Code != "AUTH_TOKEN_MISSING" {
		t.Errorf("error code = %q, want AUTH_TOKEN_MISSING", resp.Error.Code)
	}
}

func TestAuthenticate_RejectsForeignToken(t *testing.T) {
	tokens := newTestTokenCodec(t)
	mw := NewAuthMiddleware(tokens, sessionCookieName)
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with an invalid session")
	}))

	// A token minted under a different key must not verify.
	otherCodec, err := auth.NewCodec(bytes.Repeat([]byte{'x'}, 32))
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	foreign, err := auth.NewTokenCodec(otherCodec, time.Hour).Mint(auth.SessionToken{
		AccountID:  42,
		EntityType: "account",
	})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	for _, value := range []string{foreign, "garbage"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: value})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Error.Code != "AUTH_TOKEN_INVALID" {
			t.Errorf("error code = %q, want AUTH_TOKEN_INVALID", resp.Error.Code)
		}
	}
}
