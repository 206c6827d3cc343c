package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listingrisk.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	t.Run("DefaultsWhenFileMissing", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false)
		if err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
		}
		if cfg.Narrative.Timeout != 20*time.Second {
			t.Errorf("expected 20s narrative timeout, got %v", cfg.Narrative.Timeout)
		}
		if cfg.ModelStore.Retain != 0 {
			t.Errorf("expected no model history by default, got %d", cfg.ModelStore.Retain)
		}
	})

	t.Run("RequiredFileMissing", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), true); err == nil {
			t.Error("expected error for missing required file")
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9000
cache:
  analysis_ttl: 2h
modelstore:
  type: sql
  retain: 3
training:
  seed: 99
  schedule: "0 2 * * *"
`)
		cfg, err := LoadFile(path, true)
		if err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		if cfg.Server.Port != 9000 {
			t.Errorf("expected port 9000, got %d", cfg.Server.Port)
		}
		if cfg.Cache.AnalysisTTL != 2*time.Hour {
			t.Errorf("expected 2h, got %v", cfg.Cache.AnalysisTTL)
		}
		if cfg.ModelStore.Type != "sql" || cfg.ModelStore.Retain != 3 {
			t.Errorf("unexpected model store config: %+v", cfg.ModelStore)
		}
		if cfg.Training.Seed != 99 || cfg.Training.Schedule != "0 2 * * *" {
			t.Errorf("unexpected training config: %+v", cfg.Training)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected default host preserved, got %s", cfg.Server.Host)
		}
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9000\n")
		t.Setenv("LISTINGRISK_SERVER_PORT", "9100")
		t.Setenv("LISTINGRISK_REPOSITORY_SQLITE_PATH", "/tmp/env.db")

		cfg, err := LoadFile(path, true)
		if err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		if cfg.Server.Port != 9100 {
			t.Errorf("expected env port 9100, got %d", cfg.Server.Port)
		}
		if cfg.Repository.SQLitePath != "/tmp/env.db" {
			t.Errorf("expected env sqlite path, got %s", cfg.Repository.SQLitePath)
		}
	})

	t.Run("ProTierDefaults", func(t *testing.T) {
		t.Setenv("LISTINGRISK_TIER", "pro")
		cfg, err := LoadFile("", false)
		if err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
			t.Errorf("expected pro defaults, got tier=%s driver=%s", cfg.Tier, cfg.Repository.Driver)
		}
		if cfg.EventBus.Type != "nats" {
			t.Errorf("expected nats bus, got %s", cfg.EventBus.Type)
		}
	})

	t.Run("InvalidDriver", func(t *testing.T) {
		path := writeConfig(t, "repository:\n  driver: oracle\n")
		if _, err := LoadFile(path, true); err == nil {
			t.Error("expected unsupported driver error")
		}
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		path := writeConfig(t, "server: [unclosed\n")
		if _, err := LoadFile(path, true); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestLoadUsesPathEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 7070\n")
	t.Setenv(PathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected 7070, got %d", cfg.Server.Port)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"LISTINGRISK_SERVER_PORT":            "server.port",
		"LISTINGRISK_TIER":                   "tier",
		"LISTINGRISK_REPOSITORY_SQLITE_PATH": "repository.sqlite_path",
		"LISTINGRISK_NARRATIVE_API_KEY":      "narrative.api_key",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s) = %s, want %s", in, got, want)
		}
	}
}
