package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Mail     MailConfig
	SSO      SSOConfig
	PunchOut PunchOutConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the optional Redis connection used for the
// multi-step login session store. When Addr is empty an in-memory
// store is used instead.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds everything the authentication core needs.
type AuthConfig struct {
	// EncryptionKey is the 32-byte AES-256 key used by the token codec
	// for session cookies, reset links and punch-out references.
	EncryptionKey string `validate:"required,min=32"`

	CookieName            string `validate:"required"`
	CookieDays            int    `validate:"min=-1"`
	EntityType            string
	SubAccountEntityType  string
	MaxFailedAttempts     int           `validate:"min=0"`
	LockoutDuration       time.Duration `validate:"min=0"`
	EnableTwoFactor       bool
	TwoFactorIssuer       string
	ValidationToken       string
	ResetTokenValidity    time.Duration `validate:"min=0"` // zero means tokens never expire
	ResetURL              string
	PasswordPattern       string
	RequireOldPassword    bool
	MaxTransactionRetries int           `validate:"min=1"`
	RetryDelay            time.Duration `validate:"min=0"`

	// ExtraCookiesQuery, when non-empty, is executed after a successful
	// login; each returned row becomes one cookie.
	ExtraCookiesQuery string
}

// MailConfig holds outbound email configuration.
type MailConfig struct {
	Host          string
	Port          string
	Username      string
	Password      string
	DefaultSender string
	ResetSubject  string
	ResetBody     string
	NotifyBCC     string
}

// SSOConfig holds federation callback verification settings.
type SSOConfig struct {
	Enabled  bool
	Issuer   string
	Audience string
	Secret   string
}

// PunchOutConfig holds the cXML punch-out handshake settings.
type PunchOutConfig struct {
	Enabled     bool
	RedirectURL string
	// ReferenceMaxAge bounds how long an issued session reference
	// stays redeemable.
	ReferenceMaxAge time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "corecms"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			EncryptionKey:         getEnv("AUTH_ENCRYPTION_KEY", ""),
			CookieName:            getEnv("AUTH_COOKIE_NAME", "corecms_account"),
			CookieDays:            getIntEnv("AUTH_COOKIE_DAYS", 30),
			EntityType:            getEnv("AUTH_ENTITY_TYPE", "account"),
			SubAccountEntityType:  getEnv("AUTH_SUB_ACCOUNT_ENTITY_TYPE", "sub_account"),
			MaxFailedAttempts:     getIntEnv("AUTH_MAX_FAILED_ATTEMPTS", 25),
			LockoutDuration:       getDurationEnv("AUTH_LOCKOUT_MINUTES", 60*time.Minute),
			EnableTwoFactor:       getBoolEnv("AUTH_ENABLE_2FA", false),
			TwoFactorIssuer:       getEnv("AUTH_2FA_ISSUER", "corecms"),
			ValidationToken:       getEnv("AUTH_VALIDATION_TOKEN", ""),
			ResetTokenValidity:    getDurationEnv("AUTH_RESET_TOKEN_VALIDITY_MINUTES", 0),
			ResetURL:              getEnv("AUTH_RESET_URL", ""),
			PasswordPattern:       getEnv("AUTH_PASSWORD_PATTERN", ""),
			RequireOldPassword:    getBoolEnv("AUTH_REQUIRE_OLD_PASSWORD", true),
			MaxTransactionRetries: getIntEnv("AUTH_MAX_TX_RETRIES", 3),
			RetryDelay:            getDurationEnv("AUTH_RETRY_DELAY_MS", 100*time.Millisecond),
			ExtraCookiesQuery:     getEnv("AUTH_EXTRA_COOKIES_QUERY", ""),
		},
		Mail: MailConfig{
			Host:          getEnv("SMTP_HOST", "localhost"),
			Port:          getEnv("SMTP_PORT", "587"),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			DefaultSender: getEnv("SMTP_DEFAULT_SENDER", "noreply@localhost"),
			ResetSubject:  getEnv("MAIL_RESET_SUBJECT", "Reset your password"),
			ResetBody:     getEnv("MAIL_RESET_BODY", `Click <a href="{url}">here</a> to reset your password.`),
			NotifyBCC:     getEnv("MAIL_NOTIFY_BCC", ""),
		},
		SSO: SSOConfig{
			Enabled:  getBoolEnv("SSO_ENABLED", false),
			Issuer:   getEnv("SSO_ISSUER", ""),
			Audience: getEnv("SSO_AUDIENCE", ""),
			Secret:   getEnv("SSO_SECRET", ""),
		},
		PunchOut: PunchOutConfig{
			Enabled:         getBoolEnv("PUNCHOUT_ENABLED", false),
			RedirectURL:     getEnv("PUNCHOUT_REDIRECT_URL", "/api/v1/auth/autologin?user={userId}&token={token}"),
			ReferenceMaxAge: getDurationEnv("PUNCHOUT_REFERENCE_MAX_AGE_MINUTES", 60*time.Minute),
		},
	}
}

// Validate checks the loaded configuration for structural mistakes that
// would otherwise surface as runtime faults deep inside the auth core.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if c.SSO.Enabled && c.SSO.Secret == "" {
		return fmt.Errorf("sso config: SSO_SECRET is required when SSO_ENABLED is set")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Values are minutes, unless the key ends in _MS (milliseconds).
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			if strings.HasSuffix(key, "_MS") {
				return time.Duration(n) * time.Millisecond
			}
			return time.Duration(n) * time.Minute
		}
	}
	return defaultValue
}

// getIntEnv returns integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
