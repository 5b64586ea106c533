package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_USER", "chat")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_NAME", "estate")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DBPort != "3306" {
		t.Fatalf("port defaults: got port=%q dbPort=%q", cfg.Port, cfg.DBPort)
	}
	if cfg.AuthMode != AuthModeFirebase {
		t.Fatalf("auth mode=%q want=%q", cfg.AuthMode, AuthModeFirebase)
	}
	if cfg.WS.SendQueueSize != 256 || cfg.WS.RateEvents != 120 {
		t.Fatalf("ws defaults: %+v", cfg.WS)
	}
	if cfg.WS.HeartbeatInterval != 25*time.Second || cfg.WS.ReadIdleTimeout != 2*time.Minute {
		t.Fatalf("ws durations: %+v", cfg.WS)
	}
	if cfg.WS.RequireAuth || !cfg.WS.RequireMembership {
		t.Fatalf("ws policy defaults: %+v", cfg.WS)
	}
	if len(cfg.AllowedOrigins) != 3 {
		t.Fatalf("allowed origins=%v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("AUTH_MODE", AuthModeHeader)
	t.Setenv("ALLOWED_ORIGINS", "https://estate.example.com,https://admin.example.com")
	t.Setenv("WS_RATE_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthMode != AuthModeHeader {
		t.Fatalf("auth mode=%q", cfg.AuthMode)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("allowed origins=%v", cfg.AllowedOrigins)
	}
	if cfg.WS.RateWindow != 30*time.Second {
		t.Fatalf("rate window=%v", cfg.WS.RateWindow)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DB_USER", "")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DB settings")
	}
}
