// Package config loads and validates the server configuration from
// DOCVAULT_-prefixed environment variables. Validation happens once at
// startup so misconfiguration fails fast instead of surfacing mid-request.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the server.
type Config struct {
	// HTTP
	HTTPAddr    string
	Environment string // "development" or "production"
	Debug       bool   // echoes SQL and lowers the log level
	CORSOrigins []string

	// Database
	DBDriver    string // "postgres" or "sqlite"
	DatabaseURL string

	// Redis
	RedisURL string

	// Tokens
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Cookies
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// Bootstrap
	SuperAdminEmail    string
	SuperAdminPassword string // empty = generate one and log it once

	// OIDC
	OIDCEnabled      bool
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCScopes       []string

	// SMTP (password-reset mail; optional)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// FrontendURL is the base used to build password-reset links.
	FrontendURL string

	LogLevel string
}

// Load reads the configuration from the environment. Values that fail to
// parse are errors; cross-field invariants are checked by Validate, which
// callers run after applying any command-line overrides.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:           envOrDefault("DOCVAULT_HTTP_ADDR", ":8000"),
		Environment:        envOrDefault("DOCVAULT_ENVIRONMENT", "development"),
		CORSOrigins:        splitAndTrim(envOrDefault("DOCVAULT_CORS_ORIGINS", "http://localhost:3000")),
		DBDriver:           envOrDefault("DOCVAULT_DB_DRIVER", "postgres"),
		DatabaseURL:        envOrDefault("DOCVAULT_DATABASE_URL", ""),
		RedisURL:           envOrDefault("DOCVAULT_REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:          envOrDefault("DOCVAULT_JWT_SECRET", ""),
		CookieDomain:       envOrDefault("DOCVAULT_COOKIE_DOMAIN", ""),
		SuperAdminEmail:    envOrDefault("DOCVAULT_SUPERADMIN_EMAIL", "admin@localhost"),
		SuperAdminPassword: envOrDefault("DOCVAULT_SUPERADMIN_PASSWORD", ""),
		OIDCIssuer:         envOrDefault("DOCVAULT_OIDC_ISSUER_URL", ""),
		OIDCClientID:       envOrDefault("DOCVAULT_OIDC_CLIENT_ID", ""),
		OIDCClientSecret:   envOrDefault("DOCVAULT_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:    envOrDefault("DOCVAULT_OIDC_REDIRECT_URI", ""),
		OIDCScopes:         splitAndTrim(envOrDefault("DOCVAULT_OIDC_SCOPES", "openid,email,profile")),
		SMTPHost:           envOrDefault("DOCVAULT_SMTP_HOST", ""),
		SMTPUsername:       envOrDefault("DOCVAULT_SMTP_USERNAME", ""),
		SMTPPassword:       envOrDefault("DOCVAULT_SMTP_PASSWORD", ""),
		SMTPFrom:           envOrDefault("DOCVAULT_SMTP_FROM", "noreply@localhost"),
		FrontendURL:        envOrDefault("DOCVAULT_FRONTEND_URL", "http://localhost:3000"),
		LogLevel:           envOrDefault("DOCVAULT_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Debug, err = envBool("DOCVAULT_DEBUG", false); err != nil {
		return nil, err
	}
	if cfg.OIDCEnabled, err = envBool("DOCVAULT_OIDC_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = envInt("DOCVAULT_SMTP_PORT", 587); err != nil {
		return nil, err
	}

	accessMinutes, err := envInt("DOCVAULT_JWT_ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	refreshDays, err := envInt("DOCVAULT_JWT_REFRESH_TOKEN_EXPIRE_DAYS", 7)
	if err != nil {
		return nil, err
	}
	cfg.AccessTokenTTL = time.Duration(accessMinutes) * time.Minute
	cfg.RefreshTokenTTL = time.Duration(refreshDays) * 24 * time.Hour

	// Cookies default to the safe setting for the environment; both can be
	// overridden, e.g. Secure off for plain-HTTP staging behind a VPN.
	if cfg.CookieSecure, err = envBool("DOCVAULT_COOKIE_SECURE", cfg.Environment == "production"); err != nil {
		return nil, err
	}
	if cfg.CookieSameSite, err = envSameSite("DOCVAULT_COOKIE_SAMESITE", http.SameSiteLaxMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that would otherwise cause confusing failures
// at request time.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("config: DOCVAULT_JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db driver %q, use \"postgres\" or \"sqlite\"", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DOCVAULT_DATABASE_URL is required")
	}
	if c.OIDCEnabled {
		missing := []string{}
		if c.OIDCIssuer == "" {
			missing = append(missing, "DOCVAULT_OIDC_ISSUER_URL")
		}
		if c.OIDCClientID == "" {
			missing = append(missing, "DOCVAULT_OIDC_CLIENT_ID")
		}
		if c.OIDCClientSecret == "" {
			missing = append(missing, "DOCVAULT_OIDC_CLIENT_SECRET")
		}
		if c.OIDCRedirectURL == "" {
			missing = append(missing, "DOCVAULT_OIDC_REDIRECT_URI")
		}
		if len(missing) > 0 {
			return fmt.Errorf("config: OIDC is enabled but %s not set", strings.Join(missing, ", "))
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envSameSite(key string, defaultVal http.SameSite) (http.SameSite, error) {
	switch strings.ToLower(os.Getenv(key)) {
	case "":
		return defaultVal, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("config: %s must be \"lax\", \"strict\", or \"none\", got %q", key, os.Getenv(key))
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
