package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/config"
	"github.com/quotagate/quotagate/domain/policy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotagate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: /tmp/test.db\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Database.DSN != "/tmp/test.db" {
		t.Errorf("dsn = %s, want /tmp/test.db", cfg.Database.DSN)
	}
	if cfg.Quota.CheckTimeout != 2*time.Second {
		t.Errorf("checkTimeout = %v, want 2s", cfg.Quota.CheckTimeout)
	}
	if !cfg.Rollup.Enabled || cfg.Rollup.Schedule != "5 0 * * *" {
		t.Errorf("rollup = %+v, want enabled at 00:05", cfg.Rollup)
	}
}

func TestLoad_ParsesTiers(t *testing.T) {
	path := writeConfig(t, `
tiers:
  - name: free
    requests_per_minute: 5
    requests_per_day: 100
    tokens_per_day: 20000
  - name: team
    requests_per_minute: 50
    requests_per_day: 2000
    tokens_per_day: 500000
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	table := cfg.PolicyTable()

	free := table.LimitsFor(policy.TierFree)
	if free.RequestsPerMinute != 5 {
		t.Errorf("free requests/min = %d, want override 5", free.RequestsPerMinute)
	}
	if _, ok := table.Parse("team"); !ok {
		t.Error("expected custom tier to be registered")
	}
	// Built-ins not mentioned in the file stay available.
	if _, ok := table.Parse("pro"); !ok {
		t.Error("expected built-in pro tier to remain")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv(config.EnvServerPort, "9090")
	t.Setenv(config.EnvRedisURL, "redis://cache:6379")
	t.Setenv(config.EnvLogLevel, "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want env override 9090", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.URL != "redis://cache:6379" {
		t.Errorf("redis = %+v, want enabled via env", cfg.Redis)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"bad driver", "database:\n  driver: postgres\n"},
		{"nameless tier", "tiers:\n  - requests_per_minute: 1\n    requests_per_day: 1\n    tokens_per_day: 1\n"},
		{"zero limit tier", "tiers:\n  - name: broken\n    requests_per_minute: 0\n    requests_per_day: 1\n    tokens_per_day: 1\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := config.Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	holder, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	defer holder.Stop()

	var got *config.Config
	holder.OnChange(func(c *config.Config) { got = c })

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := holder.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got == nil || got.Logging.Level != "debug" {
		t.Errorf("listener saw %+v, want reloaded config", got)
	}
	if holder.Get().Logging.Level != "debug" {
		t.Errorf("get = %s, want debug", holder.Get().Logging.Level)
	}
}

func TestHolder_KeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	holder, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	defer holder.Stop()

	if err := os.WriteFile(path, []byte("server:\n  port: -5\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := holder.Reload(); err == nil {
		t.Fatal("expected reload error")
	}

	if holder.Get().Logging.Level != "info" {
		t.Errorf("level = %s, want old config retained", holder.Get().Logging.Level)
	}
}
