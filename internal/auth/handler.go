package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	appctx "github.com/velstra/corecms/internal/context"
	"github.com/velstra/corecms/internal/repository"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// Error codes returned by the authentication endpoints.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeLoginFailed      = "LOGIN_FAILED"
	CodeTooManyAttempts  = "TOO_MANY_ATTEMPTS"
	CodeNotActivated     = "NOT_ACTIVATED"
	CodeTwoFactor        = "TWO_FACTOR_REQUIRED"
	CodeResetFailed      = "RESET_FAILED"
	CodeAssertionInvalid = "ASSERTION_INVALID"
	CodeTokenInvalid     = "AUTH_TOKEN_INVALID"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Validator instance for request validation
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// LoginDTO is the body of a login request.
type LoginDTO struct {
	ComponentID   string `json:"component_id"`
	Step          int    `json:"step"`
	Login         string `json:"login" validate:"omitempty,max=255"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"totp_code" validate:"omitempty,numeric,len=6"`
}

// ForgotPasswordDTO is the body of a reset-token request.
type ForgotPasswordDTO struct {
	Login string `json:"login" validate:"required,max=255"`
}

// ResetPasswordDTO is the body of a reset redemption.
type ResetPasswordDTO struct {
	User           string `json:"user" validate:"required"`
	Token          string `json:"token" validate:"required"`
	NewPassword    string `json:"new_password"`
	RepeatPassword string `json:"repeat_password"`
}

// ChangePasswordDTO is the body of an authenticated password change.
type ChangePasswordDTO struct {
	OldPassword    string `json:"old_password" validate:"required"`
	NewPassword    string `json:"new_password"`
	RepeatPassword string `json:"repeat_password"`
}

// SSODTO is the body of a federation callback.
type SSODTO struct {
	Assertion string `json:"assertion" validate:"required"`
}

// SaveAccountDTO is the body of an account create-or-update.
type SaveAccountDTO struct {
	ID            uint64   `json:"id"`
	MainAccountID *uint64  `json:"main_account_id"`
	Login         string   `json:"login" validate:"required,max=255"`
	Email         string   `json:"email" validate:"omitempty,email"`
	Password      string   `json:"password"`
	Active        bool     `json:"active"`
	Roles         []string `json:"roles" validate:"max=32,dive,max=64"`
}

// Handler handles HTTP requests for the authentication endpoints
type Handler struct {
	login    *LoginFlow
	reset    *ResetFlow
	sso      *SSOFlow
	punchOut *PunchOutFlow
	manager  *AccountManager
	accounts AccountStore
	cookies  *CookieWriter
}

// NewHandler creates a new Handler instance
func NewHandler(login *LoginFlow, reset *ResetFlow, sso *SSOFlow, punchOut *PunchOutFlow, manager *AccountManager, accounts AccountStore, cookies *CookieWriter) *Handler {
	return &Handler{
		login:    login,
		reset:    reset,
		sso:      sso,
		punchOut: punchOut,
		manager:  manager,
		accounts: accounts,
		cookies:  cookies,
	}
}

// Login handles a single-step or multi-step login attempt
// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	mode := ModeSingleStep
	if req.ComponentID != "" {
		mode = ModeMultiStep
	}
	outcome, err := h.login.Login(r.Context(), LoginRequest{
		ComponentID:   req.ComponentID,
		Mode:          mode,
		Step:          LoginStep(req.Step),
		Login:         req.Login,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}
	h.writeLoginOutcome(w, r, outcome)
}

// AutoLogin handles the encrypted-identifier login used by punch-out
// continuations and reset links
// GET /api/v1/auth/autologin?user=...&token=...
func (h *Handler) AutoLogin(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.login.Login(r.Context(), LoginRequest{
		Mode:               ModeSingleStep,
		EncryptedAccountID: r.URL.Query().Get("user"),
		ValidationToken:    r.URL.Query().Get("token"),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}
	h.writeLoginOutcome(w, r, outcome)
}

func (h *Handler) writeLoginOutcome(w http.ResponseWriter, r *http.Request, outcome LoginOutcome) {
	switch outcome.Result {
	case LoginSuccess:
		if outcome.CookieValue != "" {
			h.cookies.WriteSession(w, outcome.CookieValue)
			mainID := outcome.Account.ID
			if outcome.Account.MainAccountID != nil {
				mainID = *outcome.Account.MainAccountID
			}
			h.cookies.WriteExtra(r.Context(), w, outcome.Account.ID, mainID)
		}
		h.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"result": outcome.Result.String(),
			"step":   int(outcome.Step),
		})
	case LoginTwoFactorRequired:
		details := map[string][]string{
			"step": {outcome.Step.String()},
		}
		if outcome.TwoFactorURI != "" {
			details["provisioning_uri"] = []string{outcome.TwoFactorURI}
		}
		h.writeError(w, http.StatusUnauthorized, CodeTwoFactor, "Two-factor authentication required", details)
	case LoginTooManyAttempts:
		h.writeError(w, http.StatusTooManyRequests, CodeTooManyAttempts, "Too many failed login attempts. Please try again later.", nil)
	case LoginUserNotActivated:
		h.writeError(w, http.StatusForbidden, CodeNotActivated, "Account is not activated", nil)
	default:
		h.writeError(w, http.StatusUnauthorized, CodeLoginFailed, "Login failed", map[string][]string{
			"result": {outcome.Result.String()},
		})
	}
}

// Logout clears the session cookie
// POST /api/v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.ClearSession(w)
	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// GetMe returns the authenticated account's profile
// GET /api/v1/auth/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := appctx.ExtractAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid or expired token", nil)
		return
	}
	account, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"account": map[string]interface{}{
			"id":              account.ID,
			"main_account_id": account.MainAccountID,
			"login":           account.Login,
			"email":           account.Email,
			"active":          account.Active,
			"created_at":      account.CreatedAt,
		},
	})
}

// ForgotPassword issues a reset token
// POST /api/v1/auth/password/forgot
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	if err := h.reset.Issue(r.Context(), req.Login); err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}
	// Same answer whether or not the login exists.
	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "If the account exists, a reset email has been sent",
	})
}

// ResetPassword redeems a reset token
// POST /api/v1/auth/password/reset
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	result := h.reset.Redeem(r.Context(), req.User, req.Token, req.NewPassword, req.RepeatPassword)
	h.writeResetResult(w, result)
}

// ChangePassword changes the password of the authenticated account
// POST /api/v1/auth/password/change
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := appctx.ExtractAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid or expired token", nil)
		return
	}
	var req ChangePasswordDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	result := h.reset.ChangePassword(r.Context(), accountID, req.OldPassword, req.NewPassword, req.RepeatPassword)
	h.writeResetResult(w, result)
}

func (h *Handler) writeResetResult(w http.ResponseWriter, result ResetResult) {
	if result == ResetSuccess {
		h.writeSuccess(w, http.StatusOK, map[string]string{
			"result": result.String(),
		})
		return
	}
	status := http.StatusBadRequest
	if result == ResetInvalidTokenOrUser || result == ResetOldPasswordInvalid {
		status = http.StatusUnauthorized
	}
	h.writeError(w, status, CodeResetFailed, "Password reset failed", map[string][]string{
		"result": {result.String()},
	})
}

// SSOCallback exchanges an identity assertion for a session
// POST /api/v1/auth/sso
func (h *Handler) SSOCallback(w http.ResponseWriter, r *http.Request) {
	var req SSODTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	account, cookieValue, err := h.sso.Exchange(r.Context(), req.Assertion)
	if err != nil {
		if errors.Is(err, ErrInvalidAssertion) || errors.Is(err, ErrSubjectConflict) {
			h.writeError(w, http.StatusUnauthorized, CodeAssertionInvalid, "Identity assertion rejected", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}

	h.cookies.WriteSession(w, cookieValue)
	mainID := account.ID
	if account.MainAccountID != nil {
		mainID = *account.MainAccountID
	}
	h.cookies.WriteExtra(r.Context(), w, account.ID, mainID)
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"account_id": account.ID,
	})
}

// PunchOutSetup handles the B2B procurement handshake
// POST /api/v1/punchout/setup
func (h *Handler) PunchOutSetup(w http.ResponseWriter, r *http.Request) {
	document, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	result, err := h.punchOut.HandleSetup(r.Context(), document)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(result.Status)
	w.Write(result.Document)
}

// SaveAccount creates or updates an account
// POST /api/v1/accounts
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req SaveAccountDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(err))
		return
	}

	result, account, err := h.manager.CreateOrUpdate(r.Context(), SaveRequest{
		AccountID:     req.ID,
		MainAccountID: req.MainAccountID,
		Login:         req.Login,
		Email:         req.Email,
		Password:      req.Password,
		Active:        req.Active,
		Roles:         req.Roles,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}

	switch result {
	case SaveUserAlreadyExists:
		h.writeError(w, http.StatusConflict, "USER_ALREADY_EXISTS", "An account with this login already exists", nil)
	case SaveInvalidPassword:
		h.writeError(w, http.StatusBadRequest, "INVALID_PASSWORD", "Password does not meet requirements", nil)
	default:
		status := http.StatusOK
		if req.ID == 0 {
			status = http.StatusCreated
		}
		h.writeSuccess(w, status, map[string]interface{}{
			"account_id": account.ID,
		})
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// validationDetails flattens validator errors into the response shape.
func validationDetails(err error) map[string][]string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return nil
	}
	details := make(map[string][]string, len(fieldErrors))
	for _, fe := range fieldErrors {
		details[fe.Field()] = append(details[fe.Field()], fe.Tag())
	}
	return details
}
