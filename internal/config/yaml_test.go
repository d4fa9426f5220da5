package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultYAMLConfigValid(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Gate.CookieName != "pb_auth" || cfg.Gate.LoginPath != "/" {
		t.Errorf("gate defaults = %+v", cfg.Gate)
	}
	if len(cfg.Gate.ProtectedPrefixes) != 3 {
		t.Errorf("protected prefixes = %v", cfg.Gate.ProtectedPrefixes)
	}
	if cfg.Auth.HashCost != 10 {
		t.Errorf("hash cost = %d, want 10", cfg.Auth.HashCost)
	}
}

func TestWriteAndLoadYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
}

func TestLoadYAMLConfigExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("KEYGATE_TEST_SECRET", "s3cret")
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	content := "auth:\n  jwt_secret: ${KEYGATE_TEST_SECRET}\nserver:\n  port: 9090\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt_secret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.APIKeyHeader != "X-API-Key" {
		t.Errorf("unset field lost its default: %q", cfg.Auth.APIKeyHeader)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*YAMLConfig)
	}{
		{"bad driver", func(c *YAMLConfig) { c.Store.Driver = "oracle" }},
		{"bad mode", func(c *YAMLConfig) { c.Authority.Mode = "ldap" }},
		{"pocketbase without url", func(c *YAMLConfig) { c.Authority.Mode = "pocketbase" }},
		{"bad ttl", func(c *YAMLConfig) { c.Auth.TokenTTL = "forever" }},
		{"zero authority timeout", func(c *YAMLConfig) { c.Authority.Timeout = "0s" }},
		{"negative authority timeout", func(c *YAMLConfig) { c.Authority.Timeout = "-5s" }},
		{"zero token ttl", func(c *YAMLConfig) { c.Auth.TokenTTL = "0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
