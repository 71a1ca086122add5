package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.ProgressBackend != "sqlite" {
		t.Errorf("ProgressBackend: expected sqlite, got %s", cfg.ProgressBackend)
	}
	if cfg.UpstreamPathPrefix != "audiobookshelf" {
		t.Errorf("UpstreamPathPrefix: expected audiobookshelf, got %s", cfg.UpstreamPathPrefix)
	}
	if cfg.LibraryCacheTTL != 5*time.Minute {
		t.Errorf("LibraryCacheTTL: expected 5m, got %s", cfg.LibraryCacheTTL)
	}
	if !cfg.KeepAliveTone {
		t.Error("KeepAliveTone should default to true")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PROGRESS_BACKEND", "Mongo")
	t.Setenv("UPSTREAM_HEADER_TIMEOUT", "30s")
	t.Setenv("KEEP_ALIVE_TONE", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.local, http://b.local,")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr: expected :9090, got %s", cfg.HTTPAddr)
	}
	if cfg.ProgressBackend != "mongo" {
		t.Errorf("ProgressBackend should be lowercased, got %s", cfg.ProgressBackend)
	}
	if cfg.UpstreamHeaderTimeout != 30*time.Second {
		t.Errorf("UpstreamHeaderTimeout: expected 30s, got %s", cfg.UpstreamHeaderTimeout)
	}
	if cfg.KeepAliveTone {
		t.Error("KeepAliveTone override ignored")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.local" {
		t.Errorf("AllowedOrigins: expected two entries, got %v", cfg.AllowedOrigins)
	}
}

func TestGetEnvDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("UPSTREAM_CONNECT_TIMEOUT", "soon")
	cfg := LoadConfig()
	if cfg.UpstreamConnectTimeout != 8*time.Second {
		t.Errorf("expected fallback 8s, got %s", cfg.UpstreamConnectTimeout)
	}
}
