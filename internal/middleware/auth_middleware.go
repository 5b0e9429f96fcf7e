package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/velstra/corecms/internal/auth"
	appctx "github.com/velstra/corecms/internal/context"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMiddleware validates the encrypted session cookie on protected
// routes and puts the authenticated identity on the request context.
type AuthMiddleware struct {
	tokens     *auth.TokenCodec
	cookieName string
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(tokens *auth.TokenCodec, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:     tokens,
		cookieName: cookieName,
	}
}

// Authenticate is a middleware that validates the session cookie
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_MISSING", "Session cookie is required")
			return
		}

		token, err := m.tokens.Verify(cookie.Value)
		if err != nil {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), appctx.AccountIDKey, token.AccountID)
		ctx = context.WithValue(ctx, appctx.MainAccountIDKey, token.MainAccountID)
		ctx = context.WithValue(ctx, appctx.EntityTypeKey, token.EntityType)
		ctx = context.WithValue(ctx, appctx.RoleKey, token.Role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeError writes a JSON error response
func (m *AuthMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// ExtractAccountID extracts the account ID from the request context
func ExtractAccountID(ctx context.Context) (uint64, bool) {
	return appctx.ExtractAccountID(ctx)
}

// ExtractRole extracts the role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	return appctx.ExtractRole(ctx)
}
