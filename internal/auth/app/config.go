package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type Config struct {
	Issuer       string // Issuer claim for credentials (default: authcore)
	DatabaseFile string // Path to SQLite database file, or ":memory:" (default: ./auth.db)
	SecretsDir   string // Directory holding pepper and key files (default: ./secrets)
	PublicURL    string // Base URL recovery links point at (default: http://localhost:8080/)
	CookieSecure bool   // Mark the refresh cookie Secure (default: true)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	MinResponseTime   time.Duration // Latency floor of recovery request flows (default: 400ms)
	AuditQueueSize    int           // Audit recorder buffer (default: 1024)
	MailQueueSize     int           // Outgoing email buffer (default: 256)
	MailWorkers       int           // Concurrent email sends (default: 4)
	BootstrapAdmin    string        // Email invited as admin when no account exists yet
	RevealEmailBodies bool          // Log rendered email bodies, dev only

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	ResetLimit ratelimit.Policy // Recovery requests per email (default: 3 per hour)
	LoginLimit ratelimit.Policy // Login failures per identifier (default: 5 per 15m)

	// RateLimits are the coarse per-IP throttles in front of the routes.
	RateLimits httpx.Profiles

	// TrustedProxies may set X-Forwarded-For and X-Real-IP (default: none)
	TrustedProxies httpx.TrustedProxies
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Issuer:               "authcore",
		DatabaseFile:         "auth.db",
		SecretsDir:           "secrets",
		PublicURL:            "http://localhost:8080/",
		CookieSecure:         true,
		Env:                  "dev",
		LogLevel:             "info",
		LogFormat:            "json",
		Port:                 8080,
		MinResponseTime:      400 * time.Millisecond,
		AuditQueueSize:       1024,
		MailQueueSize:        256,
		MailWorkers:          4,
		ShutdownGracePeriod:  10 * time.Second,
		HousekeepingInterval: 1 * time.Hour,
		ResetLimit:           ratelimit.Policy{Max: 3, Window: time.Hour},
		LoginLimit:           ratelimit.Policy{Max: 5, Window: 15 * time.Minute},
		RateLimits:           httpx.DefaultProfiles(),
	}
}

// LoadConfig layers defaults, the .env file in the working directory, the
// process environment and finally args.
func LoadConfig(args []string) (Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return cfg, err
	}

	if err := cfg.ParseFlags(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv applies the variables of a dotenv file. A missing file is not
// an error.
func (c *Config) LoadDotEnv(path string) error {
	envMap, err := godotenv.Read(path)
	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string { return envMap[key] })
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// LoadEnv overrides every field whose variable getenv returns non-empty.
// Malformed numbers and durations keep the current value; a malformed
// AUTH_TRUSTED_PROXIES is an error.
func (c *Config) LoadEnv(getenv func(string) string) error {
	c.Issuer = getEnvOrDefault(getenv, "AUTH_ISSUER", c.Issuer)
	c.DatabaseFile = getEnvOrDefault(getenv, "AUTH_DATABASE_FILE", c.DatabaseFile)
	c.SecretsDir = getEnvOrDefault(getenv, "AUTH_SECRETS_DIR", c.SecretsDir)
	c.PublicURL = getEnvOrDefault(getenv, "AUTH_PUBLIC_URL", c.PublicURL)
	c.CookieSecure = getEnvBoolOrDefault(getenv, "AUTH_COOKIE_SECURE", c.CookieSecure)
	c.MinResponseTime = getEnvDurationOrDefault(getenv, "AUTH_MIN_RESPONSE_TIME", c.MinResponseTime)
	c.AuditQueueSize = getEnvIntOrDefault(getenv, "AUTH_AUDIT_QUEUE_SIZE", c.AuditQueueSize)
	c.MailQueueSize = getEnvIntOrDefault(getenv, "AUTH_MAIL_QUEUE_SIZE", c.MailQueueSize)
	c.MailWorkers = getEnvIntOrDefault(getenv, "AUTH_MAIL_WORKERS", c.MailWorkers)
	c.BootstrapAdmin = getEnvOrDefault(getenv, "AUTH_BOOTSTRAP_ADMIN_EMAIL", c.BootstrapAdmin)
	c.RevealEmailBodies = getEnvBoolOrDefault(getenv, "AUTH_REVEAL_EMAIL_BODIES", c.RevealEmailBodies)

	c.Env = getEnvOrDefault(getenv, "ENV", c.Env)
	c.LogLevel = getEnvOrDefault(getenv, "LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault(getenv, "LOG_FORMAT", c.LogFormat)
	c.Port = getEnvIntOrDefault(getenv, "PORT", c.Port)

	c.ShutdownGracePeriod = getEnvDurationOrDefault(getenv, "SHUTDOWN_GRACE_PERIOD", c.ShutdownGracePeriod)
	c.HousekeepingInterval = getEnvDurationOrDefault(getenv, "HOUSEKEEPING_INTERVAL", c.HousekeepingInterval)

	c.ResetLimit.Max = getEnvIntOrDefault(getenv, "RATELIMIT_RESET_MAX", c.ResetLimit.Max)
	c.ResetLimit.Window = getEnvDurationOrDefault(getenv, "RATELIMIT_RESET_WINDOW", c.ResetLimit.Window)
	c.LoginLimit.Max = getEnvIntOrDefault(getenv, "RATELIMIT_LOGIN_MAX", c.LoginLimit.Max)
	c.LoginLimit.Window = getEnvDurationOrDefault(getenv, "RATELIMIT_LOGIN_WINDOW", c.LoginLimit.Window)

	c.RateLimits = httpx.ProfilesFromEnv(getenv, c.RateLimits)

	if v := getenv("AUTH_TRUSTED_PROXIES"); v != "" {
		proxies, err := httpx.ParseTrustedProxies(v)
		if err != nil {
			return fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err)
		}
		c.TrustedProxies = proxies
	}
	return nil
}

// ParseFlags applies command-line overrides on top of the current values.
func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("auth", pflag.ContinueOnError)

	fs.IntVarP(&c.Port, "port", "p", c.Port, "HTTP listen port")
	fs.StringVarP(&c.DatabaseFile, "database", "d", c.DatabaseFile, "SQLite database file")
	fs.StringVarP(&c.SecretsDir, "secrets-dir", "s", c.SecretsDir, "Directory holding the pepper and signing keys")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Env, "env", "e", c.Env, "Environment (dev, staging, prod)")

	return fs.Parse(args)
}

func getEnvOrDefault(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(getenv func(string) string, key string, defaultValue int) int {
	value := getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(getenv func(string) string, key string, defaultValue bool) bool {
	value := strings.TrimSpace(getenv(key))
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	value := getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
