// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

// Identity modes.
const (
	IdentityModeIP   = "ip"
	IdentityModeUser = "user"
)

// ModelConfig describes one OpenAI-compatible chat model endpoint.
type ModelConfig struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Enabled reports whether the model has enough configuration to be called.
func (m ModelConfig) Enabled() bool {
	return m.Name != "" && m.BaseURL != ""
}

// Config holds all configuration for the tutor gateway.
type Config struct {
	// Server
	Port            string
	LogLevel        string
	LogFile         string
	TrustedPlatform string   // e.g. CF-Connecting-IP; empty = no platform header
	TrustedProxies  []string // peers whose X-Forwarded-For is honored; empty = none

	// Quota ledger
	LedgerBackend string
	SQLitePath    string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Identity
	IdentityMode      string
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string
	LoginURL          string

	// Models
	CheapModel     ModelConfig
	ExpensiveModel ModelConfig // optional; Name empty = no premium tier
}

// Load reads configuration from environment variables with sensible defaults.
// An optional .env file in the working directory is loaded first; variables
// already present in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug("config: loaded .env")
	}

	cfg := &Config{
		Port:            getEnv("TUTOR_PORT", "8080"),
		LogLevel:        getEnv("TUTOR_LOG_LEVEL", "info"),
		LogFile:         os.Getenv("TUTOR_LOG_FILE"),
		TrustedPlatform: os.Getenv("TUTOR_TRUSTED_PLATFORM"),
		TrustedProxies:  splitList(os.Getenv("TUTOR_TRUSTED_PROXIES")),

		LedgerBackend: getEnv("TUTOR_LEDGER_BACKEND", LedgerPostgres),
		SQLitePath:    getEnv("TUTOR_SQLITE_PATH", "tutor-ledger.db"),

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "tutor"),
		DBUser:     getEnv("POSTGRES_USER", "tutor"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		IdentityMode:      getEnv("TUTOR_IDENTITY_MODE", IdentityModeIP),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey:   os.Getenv("SUPABASE_ANON_KEY"),
		SupabaseJWTSecret: os.Getenv("SUPABASE_JWT_SECRET"),
		LoginURL:          getEnv("TUTOR_LOGIN_URL", "/login.html"),

		CheapModel: ModelConfig{
			Name:    getEnv("CHEAP_MODEL_NAME", "@cf/openai/gpt-oss-120b"),
			BaseURL: os.Getenv("CHEAP_MODEL_BASE_URL"),
			APIKey:  os.Getenv("CHEAP_MODEL_API_KEY"),
		},
		ExpensiveModel: ModelConfig{
			Name:    os.Getenv("EXPENSIVE_MODEL_NAME"),
			BaseURL: os.Getenv("EXPENSIVE_MODEL_BASE_URL"),
			APIKey:  os.Getenv("EXPENSIVE_MODEL_API_KEY"),
		},
	}

	dbPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	cfg.DBPort = dbPort

	redisPort, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	cfg.RedisPort = redisPort

	switch cfg.LedgerBackend {
	case LedgerPostgres, LedgerSQLite:
	default:
		return nil, fmt.Errorf("invalid TUTOR_LEDGER_BACKEND %q: want %s or %s", cfg.LedgerBackend, LedgerPostgres, LedgerSQLite)
	}

	switch cfg.IdentityMode {
	case IdentityModeIP, IdentityModeUser:
	default:
		return nil, fmt.Errorf("invalid TUTOR_IDENTITY_MODE %q: want %s or %s", cfg.IdentityMode, IdentityModeIP, IdentityModeUser)
	}

	return cfg, nil
}

func (c *Config) dsnURL() *url.URL {
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
}

// DSN returns the PostgreSQL connection string with credentials escaped.
func (c *Config) DSN() string {
	return c.dsnURL().String()
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return c.dsnURL().Redacted()
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// splitList parses a comma-separated list, dropping blank items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
