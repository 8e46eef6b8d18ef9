package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration. Values come from HATCHUP_*
// environment variables; role definitions are read from a YAML file.
type Config struct {
	Environment string
	Version     string

	HTTP     HTTPConfig
	Postgres PostgresConfig
	Cache    CacheConfig
	Auth     AuthConfig
	OTP      OTPConfig
	Mail     MailConfig
	Obs      ObsConfig

	RolesFile      string
	BootstrapRoles bool
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	RateBurst       int
	RatePerSecond   int
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For
	// header is believed. Empty means the socket peer is the client.
	TrustedProxies []string
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig selects the shared cache backend. An empty RedisURL falls back
// to the in-process cache, which is only correct for single-instance runs.
type CacheConfig struct {
	RedisURL      string
	MemoryEntries int
	RoleTTL       time.Duration
}

type AuthConfig struct {
	Issuer        string
	Secret        string
	PrivateKeyPEM string
	PublicKeyPEM  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type OTPConfig struct {
	CodeTTL             time.Duration
	VerificationTTL     time.Duration
	HideUnknownAccounts bool
	MaxAttempts         int
}

// MailConfig chooses how OTP mails leave the process: "log" (development),
// "smtp" or "amqp". Async wraps the chosen sender in a bounded worker.
type MailConfig struct {
	Transport   string
	From        string
	SMTPAddr    string
	SMTPUser    string
	SMTPPass    string
	AMQPURL     string
	AMQPQueue   string
	Async       bool
	Concurrency int64
	SendTimeout time.Duration
}

type ObsConfig struct {
	LogLevel     string
	OTelEndpoint string
	OTelInsecure bool
	ServiceName  string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("HATCHUP_ENV", "development"),
		Version:     getEnv("HATCHUP_VERSION", "dev"),
		HTTP: HTTPConfig{
			Addr:            getEnv("HATCHUP_HTTP_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("HATCHUP_HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HATCHUP_HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HATCHUP_HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HATCHUP_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:    int64(getEnvInt("HATCHUP_HTTP_MAX_BODY_BYTES", 1<<20)),
			RateBurst:       getEnvInt("HATCHUP_RATE_BURST", 10),
			RatePerSecond:   getEnvInt("HATCHUP_RATE_PER_SECOND", 5),
			TrustedProxies:  getEnvList("HATCHUP_TRUSTED_PROXIES"),
		},
		Postgres: PostgresConfig{
			DSN:             getEnv("HATCHUP_PG_DSN", ""),
			MaxOpenConns:    getEnvInt("HATCHUP_PG_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("HATCHUP_PG_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("HATCHUP_PG_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Cache: CacheConfig{
			RedisURL:      getEnv("HATCHUP_REDIS_URL", ""),
			MemoryEntries: getEnvInt("HATCHUP_MEMORY_CACHE_ENTRIES", 10000),
			RoleTTL:       getEnvDuration("HATCHUP_ROLE_CACHE_TTL", 60*time.Second),
		},
		Auth: AuthConfig{
			Issuer:        getEnv("HATCHUP_AUTH_ISSUER", "hatchup"),
			Secret:        strings.TrimSpace(os.Getenv("HATCHUP_AUTH_SECRET")),
			PrivateKeyPEM: os.Getenv("HATCHUP_AUTH_PRIVATE_KEY"),
			PublicKeyPEM:  os.Getenv("HATCHUP_AUTH_PUBLIC_KEY"),
			AccessTTL:     getEnvDuration("HATCHUP_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    getEnvDuration("HATCHUP_REFRESH_TTL", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			CodeTTL:             getEnvDuration("HATCHUP_OTP_TTL", 10*time.Minute),
			VerificationTTL:     getEnvDuration("HATCHUP_OTP_VERIFICATION_TTL", 5*time.Minute),
			HideUnknownAccounts: getEnvBool("HATCHUP_OTP_HIDE_UNKNOWN_ACCOUNTS", false),
			MaxAttempts:         getEnvInt("HATCHUP_OTP_MAX_ATTEMPTS", 5),
		},
		Mail: MailConfig{
			Transport:   strings.ToLower(getEnv("HATCHUP_MAIL_TRANSPORT", "log")),
			From:        getEnv("HATCHUP_MAIL_FROM", "no-reply@hatchup.local"),
			SMTPAddr:    getEnv("HATCHUP_SMTP_ADDR", ""),
			SMTPUser:    getEnv("HATCHUP_SMTP_USER", ""),
			SMTPPass:    getEnv("HATCHUP_SMTP_PASSWORD", ""),
			AMQPURL:     getEnv("HATCHUP_AMQP_URL", ""),
			AMQPQueue:   getEnv("HATCHUP_AMQP_QUEUE", "mail.otp"),
			Async:       getEnvBool("HATCHUP_MAIL_ASYNC", true),
			Concurrency: int64(getEnvInt("HATCHUP_MAIL_CONCURRENCY", 4)),
			SendTimeout: getEnvDuration("HATCHUP_MAIL_TIMEOUT", 10*time.Second),
		},
		Obs: ObsConfig{
			LogLevel:     getEnv("HATCHUP_LOG_LEVEL", "info"),
			OTelEndpoint: getEnv("HATCHUP_OTEL_ENDPOINT", ""),
			OTelInsecure: getEnvBool("HATCHUP_OTEL_INSECURE", true),
			ServiceName:  getEnv("HATCHUP_SERVICE_NAME", "hatchup-api"),
		},
		RolesFile:      getEnv("HATCHUP_ROLES_FILE", ""),
		BootstrapRoles: getEnvBool("HATCHUP_BOOTSTRAP_ROLES", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combinations Load cannot express through defaults.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" && c.Auth.PrivateKeyPEM == "" {
		return errors.New("config: HATCHUP_AUTH_SECRET or HATCHUP_AUTH_PRIVATE_KEY is required")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.Cache.RoleTTL <= 0 {
		return errors.New("config: role cache ttl must be positive")
	}
	if c.OTP.CodeTTL <= 0 || c.OTP.VerificationTTL <= 0 {
		return errors.New("config: otp lifetimes must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("config: otp max attempts must be positive")
	}
	switch c.Mail.Transport {
	case "log":
		// the log transport prints live codes
		if !c.Development() {
			return fmt.Errorf("config: mail transport \"log\" is not allowed in %s", c.Environment)
		}
	case "smtp":
		if c.Mail.SMTPAddr == "" {
			return errors.New("config: HATCHUP_SMTP_ADDR is required for smtp transport")
		}
	case "amqp":
		if c.Mail.AMQPURL == "" {
			return errors.New("config: HATCHUP_AMQP_URL is required for amqp transport")
		}
	default:
		return fmt.Errorf("config: unknown mail transport %q", c.Mail.Transport)
	}
	if c.Mail.Concurrency <= 0 {
		return errors.New("config: mail concurrency must be positive")
	}
	return nil
}

// Development reports whether the service runs on a developer machine or in
// tests.
func (c *Config) Development() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
