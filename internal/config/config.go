// Package config handles client configuration from environment variables,
// an optional YAML file and a .env file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Session store kinds.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all client configuration
type Config struct {
	// Runtime
	Env       string `yaml:"env"` // "development", "staging", "production"
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	// Backend API
	APIURL         string        `yaml:"api_url"`
	APIKey         string        `yaml:"api_key"` // sent as X-API-Key on analyze-risk only
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ListLimit      int           `yaml:"list_limit"`

	// Session persistence
	SessionStore string `yaml:"session_store"` // file | redis | memory
	SessionFile  string `yaml:"session_file"`
	SessionKey   string `yaml:"session_key"`
	RedisURL     string `yaml:"redis_url"`

	// Submission audit trail (in-memory when empty)
	DatabaseURL string `yaml:"database_url"`

	// Companion server
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
}

// Defaults
const (
	DefaultAPIURL         = "http://localhost:8000"
	DefaultRequestTimeout = 15 * time.Second
	DefaultListLimit      = 100
	DefaultSessionKey     = "merchant_shield_session"
	DefaultPort           = "8090"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Defaults returns a config populated with default values only.
func Defaults() *Config {
	return &Config{
		Env:            DefaultEnv,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		APIURL:         DefaultAPIURL,
		RequestTimeout: DefaultRequestTimeout,
		ListLimit:      DefaultListLimit,
		SessionStore:   StoreFile,
		SessionFile:    DefaultSessionFile(),
		SessionKey:     DefaultSessionKey,
		Port:           DefaultPort,
		AllowedOrigins: []string{"*"},
	}
}

// DefaultSessionFile is ~/.merchantshield/session.json, or a relative
// path when the home directory is unknown.
func DefaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".merchantshield", "session.json")
	}
	return filepath.Join(home, ".merchantshield", "session.json")
}

// Load reads configuration. Precedence, lowest first: defaults, the YAML
// file named by SHIELD_CONFIG, environment variables. A .env file in the
// working directory is loaded into the environment if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("SHIELD_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.APIURL = getEnv("SHIELD_API_URL", cfg.APIURL)
	cfg.APIKey = getEnv("SHIELD_API_KEY", cfg.APIKey)
	cfg.RequestTimeout = getEnvDuration("SHIELD_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ListLimit = int(getEnvInt64("SHIELD_LIST_LIMIT", int64(cfg.ListLimit)))
	cfg.SessionStore = strings.ToLower(getEnv("SHIELD_SESSION_STORE", cfg.SessionStore))
	cfg.SessionFile = getEnv("SHIELD_SESSION_FILE", cfg.SessionFile)
	cfg.SessionKey = getEnv("SHIELD_SESSION_KEY", cfg.SessionKey)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	if origins := os.Getenv("SHIELD_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SHIELD_API_URL must be an absolute URL, got %q", c.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("SHIELD_API_URL must use http or https, got %q", u.Scheme)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("SHIELD_REQUEST_TIMEOUT must be positive")
	}
	if c.ListLimit <= 0 {
		return fmt.Errorf("SHIELD_LIST_LIMIT must be positive")
	}

	switch c.SessionStore {
	case StoreFile:
		if c.SessionFile == "" {
			return fmt.Errorf("SHIELD_SESSION_FILE is required for the file session store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis session store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("SHIELD_SESSION_STORE must be one of file, redis, memory, got %q", c.SessionStore)
	}

	if c.SessionKey == "" {
		return fmt.Errorf("SHIELD_SESSION_KEY must not be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
