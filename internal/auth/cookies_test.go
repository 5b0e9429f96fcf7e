package auth

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velstra/corecms/internal/database"
	"github.com/velstra/corecms/internal/replacer"
)

// fakeQuerier returns canned rows and records the substituted query.
type fakeQuerier struct {
	rows  []database.Row
	query string
}

func (q *fakeQuerier) Query(_ context.Context, query string, _ ...any) ([]database.Row, error) {
	q.query = query
	return q.rows, nil
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (int64, error) {
	return 0, nil
}

func TestCookieWriter_WriteSessionAndClear(t *testing.T) {
	w := NewCookieWriter("corecms_session", 24*time.Hour, true, "", nil, replacer.Replace, discardLogger())

	rec := httptest.NewRecorder()
	w.WriteSession(rec, "opaque-value")
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != "corecms_session" || c.Value != "opaque-value" {
		t.Errorf("unexpected cookie %s=%s", c.Name, c.Value)
	}
	if !c.HttpOnly || !c.Secure {
		t.Error("session cookie must be HttpOnly and Secure")
	}
	if c.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Errorf("max age = %d, want one day", c.MaxAge)
	}

	rec = httptest.NewRecorder()
	w.ClearSession(rec)
	if got := rec.Result().Cookies()[0].MaxAge; got != -1 {
		t.Errorf("clear max age = %d, want -1", got)
	}
}

func TestCookieWriter_SessionOnlyWhenNoMaxAge(t *testing.T) {
	w := NewCookieWriter("corecms_session", 0, false, "", nil, replacer.Replace, discardLogger())

	rec := httptest.NewRecorder()
	w.WriteSession(rec, "opaque-value")
	if got := rec.Result().Cookies()[0].MaxAge; got != 0 {
		t.Errorf("max age = %d, want a session cookie", got)
	}
}

func TestCookieWriter_WriteExtra(t *testing.T) {
	db := &fakeQuerier{rows: []database.Row{
		{"key": "shop_locale", "value": "nl-NL"},
		{"name": "shop_segment", "value": "b2b", "http_only": true},
		{"value": "orphan"}, // no key column, skipped
	}}
	w := NewCookieWriter("corecms_session", 0, false,
		"SELECT key, value FROM account_cookies WHERE account_id = {userId}",
		db, replacer.Replace, discardLogger())

	rec := httptest.NewRecorder()
	w.WriteExtra(context.Background(), rec, 42, 7)

	if !strings.Contains(db.query, "= 42") {
		t.Errorf("account id not substituted: %q", db.query)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	if cookies[0].Name != "shop_locale" || cookies[0].Value != "nl-NL" {
		t.Errorf("unexpected cookie %s=%s", cookies[0].Name, cookies[0].Value)
	}
	// Rows keyed by the legacy name column still work.
	if cookies[1].Name != "shop_segment" || !cookies[1].HttpOnly {
		t.Errorf("unexpected cookie %s (HttpOnly=%v)", cookies[1].Name, cookies[1].HttpOnly)
	}
}
