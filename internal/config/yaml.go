package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keygate configuration file. The
// mapstructure tags let viper decode the same shape from flags and
// KEYGATE_* environment variables.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Authority AuthorityConfig `yaml:"authority" mapstructure:"authority"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Gate      GateConfig      `yaml:"gate" mapstructure:"gate"`
	Frontend  FrontendConfig  `yaml:"frontend" mapstructure:"frontend"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// StoreConfig selects the database that holds keys and users.
type StoreConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// AuthorityConfig selects the session authority. Mode is "local" (tokens
// issued by keygate for users in the store) or "pocketbase".
type AuthorityConfig struct {
	Mode       string `yaml:"mode" mapstructure:"mode"`
	URL        string `yaml:"url" mapstructure:"url"`
	Collection string `yaml:"collection" mapstructure:"collection"`
	Timeout    string `yaml:"timeout" mapstructure:"timeout"`
}

// AuthConfig controls token and key settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL     string `yaml:"token_ttl" mapstructure:"token_ttl"`
	APIKeyHeader string `yaml:"api_key_header" mapstructure:"api_key_header"`
	HashCost     int    `yaml:"hash_cost" mapstructure:"hash_cost"`
}

// GateConfig controls the page session gate.
type GateConfig struct {
	CookieName        string   `yaml:"cookie_name" mapstructure:"cookie_name"`
	LoginPath         string   `yaml:"login_path" mapstructure:"login_path"`
	ProtectedPrefixes []string `yaml:"protected_prefixes" mapstructure:"protected_prefixes"`
	LiveCheck         bool     `yaml:"live_check" mapstructure:"live_check"`
	SecureCookie      bool     `yaml:"secure_cookie" mapstructure:"secure_cookie"`
}

// FrontendConfig points at the application that serves the gated pages.
type FrontendConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// RateLimitConfig bounds per-IP request rates on the key and session routes.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// RetentionConfig controls how long revoked keys are kept before purging.
// An empty schedule disables purging.
type RetentionConfig struct {
	Schedule     string `yaml:"schedule" mapstructure:"schedule"`
	RevokedAfter string `yaml:"revoked_after" mapstructure:"revoked_after"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Fields absent from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Authority: AuthorityConfig{
			Mode:       "local",
			Collection: "users",
			Timeout:    "10s",
		},
		Auth: AuthConfig{
			TokenTTL:     "24h",
			APIKeyHeader: "X-API-Key",
			HashCost:     10,
		},
		Gate: GateConfig{
			CookieName:        "pb_auth",
			LoginPath:         "/",
			ProtectedPrefixes: []string{"/dashboard", "/admin", "/user"},
			SecureCookie:      true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Retention: RetentionConfig{
			RevokedAfter: "720h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *YAMLConfig) Validate() error {
	if _, err := NormalizeDriver(c.Store.Driver); err != nil {
		return err
	}
	switch c.Authority.Mode {
	case "local", "":
	case "pocketbase":
		if c.Authority.URL == "" {
			return fmt.Errorf("authority.url is required when authority.mode is pocketbase")
		}
	default:
		return fmt.Errorf("unknown authority.mode %q (want local or pocketbase)", c.Authority.Mode)
	}
	for key, v := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"authority.timeout":       c.Authority.Timeout,
		"auth.token_ttl":          c.Auth.TokenTTL,
		"retention.revoked_after": c.Retention.RevokedAfter,
	} {
		d, err := ParseDuration(v, 0)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d < 0 || (v != "" && d == 0) {
			return fmt.Errorf("%s must be positive, got %q", key, v)
		}
	}
	return nil
}

// ParseDuration parses a duration string, returning def for an empty value.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
