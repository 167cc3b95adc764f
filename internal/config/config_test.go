package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harrier.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Edition != domain.EditionCommunity || cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Escalation.EscalationThreshold != 61 || cfg.Escalation.AutoSuspendThreshold != 81 {
		t.Errorf("unexpected thresholds: %+v", cfg.Escalation)
	}
	if cfg.Scoring.RescoreInterval != 15*time.Minute {
		t.Errorf("expected 15m rescore interval, got %v", cfg.Scoring.RescoreInterval)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
  cors_origins: ["https://app.example.com"]
scoring:
  rescore_interval: 30m
escalation:
  escalation_threshold: 65
`)
	t.Setenv("HARRIER_PORT", "9191")
	t.Setenv("HARRIER_ESCALATION__AUTO_SUSPEND_THRESHOLD", "75")
	t.Setenv("HARRIER_LOG_LEVEL", "debug")
	t.Setenv("HARRIER_VELOCITY__CACHE_TTL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("env must override file, got port %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Scoring.RescoreInterval != 30*time.Minute {
		t.Errorf("expected 30m from file, got %v", cfg.Scoring.RescoreInterval)
	}
	if cfg.Escalation.EscalationThreshold != 65 || cfg.Escalation.AutoSuspendThreshold != 75 {
		t.Errorf("unexpected thresholds %+v", cfg.Escalation)
	}
	if cfg.Logging.Level != "debug" || cfg.Velocity.CacheTTL != 90*time.Second {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Logging, cfg.Velocity)
	}
	if cfg.Repository.SQLitePath != "./harrier.db" {
		t.Errorf("untouched defaults must survive, got %q", cfg.Repository.SQLitePath)
	}
}

func TestLoadProEdition(t *testing.T) {
	t.Setenv("HARRIER_EDITION", "pro")
	t.Setenv("HARRIER_POSTGRES_USER", "harrier")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" || cfg.Velocity.Store != "redis" {
		t.Errorf("expected pro defaults, got %+v", cfg)
	}
	if cfg.Repository.PostgresUser != "harrier" {
		t.Errorf("env override lost on pro reload, got %q", cfg.Repository.PostgresUser)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeFile(t, "escalation:\n  escalation_threshold: 90\n  auto_suspend_threshold: 70\n")
	_, err := Load(path)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"valid", func(*domain.Config) {}, ""},
		{"edition", func(c *domain.Config) { c.Edition = "enterprise" }, "unknown edition"},
		{"port", func(c *domain.Config) { c.Server.Port = 70000 }, "server.port"},
		{"driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "unsupported repository driver"},
		{"redis addr", func(c *domain.Config) { c.Cache.Type = "redis" }, "cache.redis_addr"},
		{"bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }, "unsupported event bus"},
		{"velocity store", func(c *domain.Config) { c.Velocity.Store = "redis" }, "velocity.store"},
		{"escalation below red", func(c *domain.Config) { c.Escalation.EscalationThreshold = 50 }, "RED lower bound"},
		{"log level", func(c *domain.Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Errorf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}
