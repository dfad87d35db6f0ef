package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("BOTSTER_CORE_HOME", t.TempDir())
	t.Setenv("BOTSTER_CIRCUIT_BREAKER_THRESHOLD", "7")
	t.Setenv("BOTSTER_AI_BUFFER_DELAY_MS", "2500")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CircuitBreakerThreshold != 7 {
		t.Fatalf("CircuitBreakerThreshold = %d, want 7", cfg.CircuitBreakerThreshold)
	}
	if cfg.AIBufferDelay != 2500*time.Millisecond {
		t.Fatalf("AIBufferDelay = %v, want 2.5s", cfg.AIBufferDelay)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BOTSTER_CORE_HOME", dir)

	cfg := DefaultConfig()
	cfg.Home = dir
	cfg.SummaryPoolSize = 9
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SummaryPoolSize != 9 {
		t.Fatalf("SummaryPoolSize = %d, want 9", loaded.SummaryPoolSize)
	}
}

func TestDirRespectsOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv("BOTSTER_CORE_HOME", dir)

	got, err := Dir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Fatalf("Dir() = %q, want %q", got, dir)
	}
}
