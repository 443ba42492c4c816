package domain

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tier != TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("expected channel bus, got %s", cfg.EventBus.Type)
	}

	// LocalTTL is a time.Duration; a bare integer here would be
	// nanoseconds and make every cache entry expire immediately.
	if cfg.Cache.LocalTTL != 5*time.Minute {
		t.Errorf("expected 5m local cache TTL, got %s", cfg.Cache.LocalTTL)
	}

	if cfg.Throttle.MaxEvaluations != 10 || cfg.Throttle.WindowSecs != 86400 {
		t.Errorf("unexpected throttle defaults: %+v", cfg.Throttle)
	}
}

func TestProConfig(t *testing.T) {
	cfg := ProConfig()

	if cfg.Tier != TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" || !cfg.Cache.EnableTwoPhase {
		t.Errorf("expected two-phase redis cache, got %+v", cfg.Cache)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats bus, got %s", cfg.EventBus.Type)
	}
	if !cfg.Tracing.Enabled {
		t.Error("expected tracing enabled for pro tier")
	}
}
