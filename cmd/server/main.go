package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/velstra/corecms/internal/auth"
	"github.com/velstra/corecms/internal/config"
	"github.com/velstra/corecms/internal/database"
	"github.com/velstra/corecms/internal/logger"
	"github.com/velstra/corecms/internal/mailer"
	"github.com/velstra/corecms/internal/metrics"
	authmw "github.com/velstra/corecms/internal/middleware"
	"github.com/velstra/corecms/internal/replacer"
	"github.com/velstra/corecms/internal/repository"
)

func main() {
	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLogger := logger.New(logger.DefaultConfig())

	// Setup database connections: a pgx pool for the repositories and
	// an sqlx handle for the configurable-query façade
	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	facade, sqlxDB, err := database.Open(cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open query facade: %v", err)
	}
	defer sqlxDB.Close()

	// Session store: Redis when configured, in-memory otherwise
	var sessions auth.SessionStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		sessions = auth.NewRedisSessionStore(client)
	} else {
		sessions = auth.NewMemorySessionStore()
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(dbPool)
	roleRepo := repository.NewRoleRepository(dbPool)
	punchOutRepo := repository.NewPunchOutRepository(dbPool)

	// Initialize the crypto primitives
	verifier := auth.NewVerifier()
	codec, err := auth.NewCodec([]byte(cfg.Auth.EncryptionKey)[:32])
	if err != nil {
		log.Fatalf("Failed to create codec: %v", err)
	}
	cookieMaxAge := time.Duration(cfg.Auth.CookieDays) * 24 * time.Hour
	if cfg.Auth.CookieDays <= 0 {
		cookieMaxAge = 0
	}
	tokens := auth.NewTokenCodec(codec, cookieMaxAge)
	totp := auth.NewTOTPManager(cfg.Auth.TwoFactorIssuer)
	lockout := auth.LockoutPolicy{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		Duration:          cfg.Auth.LockoutDuration,
	}

	// Outbound mail
	var mail mailer.Mailer
	if cfg.Mail.Host != "" {
		mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:          cfg.Mail.Host,
			Port:          cfg.Mail.Port,
			Username:      cfg.Mail.Username,
			Password:      cfg.Mail.Password,
			DefaultSender: cfg.Mail.DefaultSender,
		}, appLogger)
	} else {
		mail = mailer.NewLogMailer(appLogger)
	}

	// Initialize the flows
	loginFlow := auth.NewLoginFlow(auth.LoginFlowConfig{
		EntityType:      cfg.Auth.EntityType,
		EnableTwoFactor: cfg.Auth.EnableTwoFactor,
		ValidationToken: cfg.Auth.ValidationToken,
	}, accountRepo, roleRepo, lockout, verifier, totp, tokens, sessions, appLogger)

	resetFlow, err := auth.NewResetFlow(auth.ResetFlowConfig{
		EntityType:      cfg.Auth.EntityType,
		TokenValidity:   cfg.Auth.ResetTokenValidity,
		ResetURL:        cfg.Auth.ResetURL,
		MailSubject:     cfg.Mail.ResetSubject,
		MailBody:        cfg.Mail.ResetBody,
		MailSender:      cfg.Mail.DefaultSender,
		PasswordPattern: cfg.Auth.PasswordPattern,
	}, accountRepo, verifier, codec, mail, replacer.Replace, appLogger)
	if err != nil {
		log.Fatalf("Failed to create reset flow: %v", err)
	}

	ssoFlow := auth.NewSSOFlow(accountRepo, loginFlow, cfg.Auth.EntityType,
		[]byte(cfg.SSO.Secret), cfg.SSO.Issuer, appLogger)

	punchOutFlow := auth.NewPunchOutFlow(accountRepo, punchOutRepo, verifier, codec,
		lockout, replacer.Replace, cfg.Auth.EntityType, cfg.PunchOut.RedirectURL,
		cfg.Auth.ValidationToken, appLogger)

	txRunner := database.NewTxRunner(dbPool, cfg.Auth.MaxTransactionRetries,
		cfg.Auth.RetryDelay, appLogger)
	accountManager, err := auth.NewAccountManager(auth.AccountManagerConfig{
		EntityType:      cfg.Auth.EntityType,
		PasswordPattern: cfg.Auth.PasswordPattern,
	}, txRunner, auth.PgxStoreFactory{}, verifier, replacer.Replace, appLogger)
	if err != nil {
		log.Fatalf("Failed to create account manager: %v", err)
	}

	cookieWriter := auth.NewCookieWriter(cfg.Auth.CookieName, cookieMaxAge, true,
		cfg.Auth.ExtraCookiesQuery, facade, replacer.Replace, appLogger)

	// Initialize handlers and middleware
	handler := auth.NewHandler(loginFlow, resetFlow, ssoFlow, punchOutFlow,
		accountManager, accountRepo, cookieWriter)
	authMiddleware := authmw.NewAuthMiddleware(tokens, cfg.Auth.CookieName)
	loginLimiter := authmw.NewLoginRateLimiter(30, time.Minute)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(authmw.StructuredLogger(appLogger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dbStatus := "up"
		if err := dbPool.Ping(ctx); err != nil {
			dbStatus = "down"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"%s"}`, dbStatus)
	})

	metrics.RegisterRoutes(r)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(loginLimiter.RateLimitLogin)
			auth.RegisterRoutes(r, handler, authMiddleware.Authenticate)
		})
	})

	// Create server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Connected to database %s on %s:%s", cfg.Database.DBName, cfg.Database.Host, cfg.Database.Port)
	return pool, nil
}
