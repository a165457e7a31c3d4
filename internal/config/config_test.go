package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for non-integer value, got %d", v)
	}
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.75")
	if v := envFloat("TEST_FLOAT", 0); v != 0.75 {
		t.Fatalf("expected 0.75, got %v", v)
	}
	if v := envFloat("TEST_FLOAT_MISSING", 0.6); v != 0.6 {
		t.Fatalf("expected fallback 0.6, got %v", v)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m for invalid duration, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.StoreBackend != "sqlite" {
		t.Fatalf("expected default sqlite backend, got %q", cfg.StoreBackend)
	}
	if cfg.MinFrequency != 3 {
		t.Fatalf("expected default min frequency 3, got %d", cfg.MinFrequency)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("KIZUKI_STORE", "dynamodb")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with an unknown store backend")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	t.Setenv("KIZUKI_CONFIDENCE_THRESHOLD", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with an out-of-range threshold")
	}
}
