package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_INCIDENTS_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Pipeline.MergeFrequency != 5*time.Minute {
		t.Fatalf("expected 5m merge frequency, got %v", cfg.Pipeline.MergeFrequency)
	}
	if cfg.Detectors.Revenue.Frequency != time.Hour {
		t.Fatalf("expected hourly revenue buckets, got %v", cfg.Detectors.Revenue.Frequency)
	}
	if !cfg.Detectors.Geo.Enabled {
		t.Fatalf("expected geo detector enabled by default")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`pipeline:
  mergeFrequency: 10m
detectors:
  ewma:
    span: 12
    k: 2.5
  latency:
    enabled: false
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.MergeFrequency != 10*time.Minute {
		t.Fatalf("expected 10m, got %v", cfg.Pipeline.MergeFrequency)
	}
	if cfg.Detectors.EWMA.Span != 12 || cfg.Detectors.EWMA.K != 2.5 {
		t.Fatalf("unexpected ewma config: %+v", cfg.Detectors.EWMA)
	}
	if cfg.Detectors.EWMA.MinFailed != 5 {
		t.Fatalf("expected untouched default min_failed, got %d", cfg.Detectors.EWMA.MinFailed)
	}
	if cfg.Detectors.Latency.Enabled {
		t.Fatalf("expected latency detector disabled")
	}
	if cfg.Pipeline.Fields.Status != "status" {
		t.Fatalf("expected default status field, got %q", cfg.Pipeline.Fields.Status)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_INCIDENTS_CONFIG", "")
	t.Setenv("MIRADOR_INCIDENTS_RULES_PATH", "/etc/rules.yaml")
	t.Setenv("MIRADOR_INCIDENTS_CACHE_ENABLED", "1")
	t.Setenv("MIRADOR_INCIDENTS_MERGE_FREQUENCY", "15m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Rules.Path != "/etc/rules.yaml" {
		t.Fatalf("unexpected rules path %q", cfg.Rules.Path)
	}
	if !cfg.Cache.Enabled {
		t.Fatalf("expected cache enabled from env")
	}
	if cfg.Pipeline.MergeFrequency != 15*time.Minute {
		t.Fatalf("unexpected merge frequency %v", cfg.Pipeline.MergeFrequency)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadRejectsInvalidFrequency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("detectors:\n  geo:\n    frequency: 0s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	for _, key := range []string{"MIRADOR_INCIDENTS_LOG_FORMAT", "MIRADOR_INCIDENTS_CACHE_ADDR", "MIRADOR_INCIDENTS_CACHE_ENABLED"} {
		t.Setenv(key, "")
	}
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	want := Default()
	want.Logging.JSON = true
	want.Cache.Addr = "localhost:6379"
	if cfg.Pipeline != want.Pipeline || cfg.Detectors != want.Detectors || cfg.Cache != want.Cache {
		t.Fatalf("shipped config drifted from defaults:\n got %+v\nwant %+v", *cfg, want)
	}
	if cfg.Logging != want.Logging || cfg.Server != want.Server {
		t.Fatalf("unexpected server/logging settings: %+v %+v", cfg.Server, cfg.Logging)
	}
}
