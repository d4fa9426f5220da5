package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/session"
)

// setDefaults registers every key of the default configuration with v so
// that environment variables are honored by Unmarshal even when no config
// file mentions the key.
func setDefaults(v *viper.Viper) {
	raw, err := yaml.Marshal(config.DefaultYAMLConfig())
	if err != nil {
		return
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return
	}
	flattenInto(v, "", tree)
}

func flattenInto(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			flattenInto(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig decodes the effective configuration from viper.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// resolveDataDir returns the SQLite data directory: store.data_dir or
// ~/.keygate as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if cfg.Store.DataDir != "" {
		return cfg.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keygate")
}

// openStore opens the configured key store. SQLite without a DSN lives in
// the data directory.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	driver, err := config.NormalizeDriver(cfg.Store.Driver)
	if err != nil {
		return nil, err
	}
	if driver == config.DriverSQLite && cfg.Store.DSN == "" {
		return config.NewStore(resolveDataDir(cfg))
	}
	return config.Open(driver, cfg.Store.DSN)
}

// newHasher returns the bcrypt hasher at the configured cost.
func newHasher(cfg *config.YAMLConfig) credential.Hasher {
	return credential.NewBcryptHasher(cfg.Auth.HashCost)
}

// buildAuthority returns the configured session authority. In local mode a
// missing jwt secret is an error unless allowEphemeral is set, in which case
// a random per-process secret is used.
func buildAuthority(cfg *config.YAMLConfig, store *config.Store, hasher credential.Hasher, allowEphemeral bool, logger *slog.Logger) (session.PasswordAuthority, error) {
	switch cfg.Authority.Mode {
	case "pocketbase":
		var client *http.Client
		if timeout, _ := config.ParseDuration(cfg.Authority.Timeout, 0); timeout > 0 {
			client = &http.Client{Timeout: timeout}
		}
		return session.NewPocketBaseAuthority(cfg.Authority.URL, cfg.Authority.Collection, client), nil
	default:
		secret := cfg.Auth.JWTSecret
		if secret == "" {
			if !allowEphemeral {
				return nil, fmt.Errorf("auth.jwt_secret is not set (use KEYGATE_AUTH_JWT_SECRET)")
			}
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return nil, fmt.Errorf("generate jwt secret: %w", err)
			}
			secret = hex.EncodeToString(b)
			logger.Warn("auth.jwt_secret not set; using an ephemeral secret, sessions will not survive a restart")
		}
		ttl, _ := config.ParseDuration(cfg.Auth.TokenTTL, session.DefaultTokenTTL)
		return session.NewLocalAuthority(store, hasher, secret, ttl), nil
	}
}

// openRegistry opens the store and builds the key registry with its
// authority. The caller closes the returned store.
func openRegistry(cfg *config.YAMLConfig, logger *slog.Logger, m *metrics.Metrics) (*service.Registry, *config.Store, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open key store: %w", err)
	}
	hasher := newHasher(cfg)
	authority, err := buildAuthority(cfg, store, hasher, false, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	registry := service.NewRegistry(store, authority, hasher,
		service.WithLogger(logger),
		service.WithMetrics(m),
	)
	return registry, store, nil
}

// resolveToken returns the session token from --token or KEYGATE_TOKEN.
func resolveToken(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if tok := viper.GetString("token"); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("no session token: pass --token or set KEYGATE_TOKEN (see 'keygate login')")
}

// promptPassword reads a password from the terminal without echo. When
// confirm is set the password is read twice and must match.
func promptPassword(confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if !confirm {
		return string(pwBytes), nil
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
