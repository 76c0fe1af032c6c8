package core

import (
	"context"
	"testing"
	"time"
)

func TestConfigDefaultsAndDerivedDurations(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Session.TTL() != 30*24*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.Session.TTL())
	}
	if cfg.Refresh.Skew() != 30*time.Second {
		t.Fatalf("unexpected skew %v", cfg.Refresh.Skew())
	}
	if cfg.Refresh.WarmLead() != 5*time.Minute {
		t.Fatalf("unexpected warm lead %v", cfg.Refresh.WarmLead())
	}

	// Zero values fall back to the package defaults.
	if (SessionConfig{}).TTL() != DefaultSessionTTL {
		t.Fatalf("expected default ttl fallback")
	}
	if (RefreshConfig{}).Skew() != DefaultAccessTokenSkew {
		t.Fatalf("expected default skew fallback")
	}
	if (RefreshConfig{}).WarmLead() != DefaultWarmLeadWindow {
		t.Fatalf("expected default warm lead fallback")
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected blank service name to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Session.TokenLength = 8
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected short token length to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Session.TTLDays = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative ttl to be rejected")
	}
}

func TestGoOptionsResolverLayersRuntimeOverConfig(t *testing.T) {
	defaults := DefaultConfig()

	loaded := defaults
	loaded.Refresh.SkewSeconds = 45
	loaded.Session.TTLDays = 14

	runtime := Config{}
	runtime.Refresh.SkewSeconds = 60

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Refresh.SkewSeconds != 60 {
		t.Fatalf("runtime layer must win, got %d", resolved.Refresh.SkewSeconds)
	}
	if resolved.Session.TTLDays != 14 {
		t.Fatalf("config layer must beat defaults, got %d", resolved.Session.TTLDays)
	}
	if resolved.ServiceName != defaults.ServiceName {
		t.Fatalf("defaults must fill gaps, got %q", resolved.ServiceName)
	}
}

func TestCfgxConfigProviderLoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"refresh": map[string]any{
			"skew_seconds": 90,
		},
	}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Refresh.SkewSeconds != 90 {
		t.Fatalf("expected loaded skew, got %d", cfg.Refresh.SkewSeconds)
	}
	if cfg.ServiceName != "connections" {
		t.Fatalf("expected defaults to backfill, got %q", cfg.ServiceName)
	}
}

func TestNewServiceAppliesRuntimeConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Refresh.SkewSeconds = 120

	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if got := service.Config().Refresh.Skew(); got != 2*time.Minute {
		t.Fatalf("expected runtime skew to survive resolution, got %v", got)
	}
}
