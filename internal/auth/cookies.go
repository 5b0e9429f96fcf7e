package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/velstra/corecms/internal/database"
	"github.com/velstra/corecms/internal/replacer"
)

// CookieWriter sets the login cookie and any extra cookies a deployment
// configures through a query.
type CookieWriter struct {
	name        string
	maxAge      time.Duration
	secure      bool
	extraQuery  string
	db          database.Querier
	replaceFunc replacer.Func
	logger      *slog.Logger
}

// NewCookieWriter creates a new CookieWriter instance. extraQuery may
// be empty, in which case only the login cookie is written.
func NewCookieWriter(name string, maxAge time.Duration, secure bool, extraQuery string, db database.Querier, replaceFunc replacer.Func, logger *slog.Logger) *CookieWriter {
	return &CookieWriter{
		name:        name,
		maxAge:      maxAge,
		secure:      secure,
		extraQuery:  extraQuery,
		db:          db,
		replaceFunc: replaceFunc,
		logger:      logger,
	}
}

// WriteSession sets the login cookie holding the encrypted token value.
func (w *CookieWriter) WriteSession(rw http.ResponseWriter, value string) {
	cookie := &http.Cookie{
		Name:     w.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if w.maxAge > 0 {
		cookie.MaxAge = int(w.maxAge.Seconds())
	}
	http.SetCookie(rw, cookie)
}

// ClearSession expires the login cookie.
func (w *CookieWriter) ClearSession(rw http.ResponseWriter) {
	http.SetCookie(rw, &http.Cookie{
		Name:     w.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WriteExtra runs the configured extra-cookies query for the logged-in
// account and sets one cookie per returned row. Expected columns: key
// (or name), value, and optionally expires_at, http_only, and secure.
// A failing query is logged and skipped so it cannot block a
// successful login.
func (w *CookieWriter) WriteExtra(ctx context.Context, rw http.ResponseWriter, accountID, mainAccountID uint64) {
	if w.extraQuery == "" || w.db == nil {
		return
	}
	query := w.replaceFunc(w.extraQuery, map[string]string{
		"userId":     strconv.FormatUint(accountID, 10),
		"mainUserId": strconv.FormatUint(mainAccountID, 10),
	})
	rows, err := w.db.Query(ctx, query)
	if err != nil {
		w.logger.WarnContext(ctx, "extra cookies query failed", slog.String("error", err.Error()))
		return
	}
	for _, row := range rows {
		name := row.String("key")
		if name == "" {
			name = row.String("name")
		}
		if name == "" {
			continue
		}
		cookie := &http.Cookie{
			Name:     name,
			Value:    row.String("value"),
			Path:     "/",
			HttpOnly: row.Bool("http_only"),
			Secure:   row.Bool("secure") || w.secure,
			SameSite: http.SameSiteLaxMode,
		}
		if row.Has("expires_at") {
			if expires, ok := row["expires_at"].(time.Time); ok {
				cookie.Expires = expires
			}
		}
		http.SetCookie(rw, cookie)
	}
}
