package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router
// Public routes: /auth/login, /auth/autologin, /auth/sso,
// /auth/password/forgot, /auth/password/reset, /punchout/setup
// Protected routes: /auth/logout, /auth/me, /auth/password/change,
// /accounts
func RegisterRoutes(r chi.Router, handler *Handler, authMiddleware Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", handler.Login)
		r.Get("/autologin", handler.AutoLogin)
		r.Post("/sso", handler.SSOCallback)
		r.Post("/password/forgot", handler.ForgotPassword)
		r.Post("/password/reset", handler.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", handler.Logout)
			r.Get("/me", handler.GetMe)
			r.Post("/password/change", handler.ChangePassword)
		})
	})

	r.Post("/punchout/setup", handler.PunchOutSetup)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/accounts", handler.SaveAccount)
	})
}
