package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: s3cret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("unexpected port: %d", cfg.Server.Port)
	}
	if cfg.Ranking.DefaultLimit != 100 || cfg.Ranking.MaxLimit != 500 {
		t.Fatalf("unexpected ranking limits: %+v", cfg.Ranking)
	}
	if cfg.Ranking.CacheTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected cache timeout: %v", cfg.Ranking.CacheTimeout)
	}
	if cfg.Auth.TokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.Auth.TokenTTL)
	}
	if cfg.Redis.Enabled {
		t.Fatalf("redis should stay disabled unless configured")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("LB_TEST_SECRET", "from-env")
	t.Setenv("LB_TEST_REDIS_URL", "rediss://cache.example:6380/0")
	path := writeConfig(t, `
auth:
  jwt_secret: ${LB_TEST_SECRET}
redis:
  enabled: true
  url: ${LB_TEST_REDIS_URL}
ranking:
  max_limit: 50
  default_limit: 10
  cache_timeout: 250ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("secret not expanded: %q", cfg.Auth.JWTSecret)
	}
	if cfg.Redis.URL != "rediss://cache.example:6380/0" || !cfg.Redis.Enabled {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Ranking.MaxLimit != 50 || cfg.Ranking.DefaultLimit != 10 {
		t.Fatalf("unexpected ranking config: %+v", cfg.Ranking)
	}
	if cfg.Ranking.CacheTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected cache timeout: %v", cfg.Ranking.CacheTimeout)
	}
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: x
ranking:
  default_limit: 600
  max_limit: 500
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("LB_TEST_SECRET", "")
	path := writeConfig(t, "auth:\n  jwt_secret: ${LB_TEST_SECRET}\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty jwt secret")
	}
	if _, _, err := LoadOrDefault(path); err == nil {
		t.Fatalf("invalid config file must not fall back to defaults")
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	t.Run("missing file without secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		if _, _, err := LoadOrDefault(missing); err == nil {
			t.Fatalf("expected error when no secret is available")
		}
	})

	t.Run("missing file with secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")
		cfg, usedDefaults, err := LoadOrDefault(missing)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if !usedDefaults || cfg.Auth.JWTSecret != "from-env" {
			t.Fatalf("unexpected fallback: defaults=%v secret=%q", usedDefaults, cfg.Auth.JWTSecret)
		}
	})

	t.Run("existing file", func(t *testing.T) {
		path := writeConfig(t, "auth:\n  jwt_secret: s3cret\n")
		cfg, usedDefaults, err := LoadOrDefault(path)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if usedDefaults || cfg.Auth.JWTSecret != "s3cret" {
			t.Fatalf("unexpected config: defaults=%v secret=%q", usedDefaults, cfg.Auth.JWTSecret)
		}
	})
}

func TestDefaultConfigHasNoSecret(t *testing.T) {
	if secret := DefaultConfig().Auth.JWTSecret; secret != "" {
		t.Fatalf("default config must not carry a token secret, got %q", secret)
	}
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Postgres.User = "lb"
	cfg.Postgres.Password = "pw"
	cfg.Postgres.Database = "leaderboard"

	want := "postgres://lb:pw@localhost:5432/leaderboard?sslmode=disable"
	if got := cfg.Postgres.ConnectionString(); got != want {
		t.Fatalf("unexpected dsn: %s", got)
	}
}
