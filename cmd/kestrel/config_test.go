package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Temperature != nil || cfg.StreamMode != "" {
		t.Fatalf("cfg = %+v, want zero value", cfg)
	}
}

func TestLoadConfigParsesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("temperature: 0.5\ntop_k: 20\nsteps: 16\nstops:\n  - \"<eos>\"\nstream_mode: smooth\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Fatalf("temperature = %v, want 0.5", cfg.Temperature)
	}
	if cfg.TopK == nil || *cfg.TopK != 20 {
		t.Fatalf("top_k = %v, want 20", cfg.TopK)
	}
	if cfg.Steps == nil || *cfg.Steps != 16 {
		t.Fatalf("steps = %v, want 16", cfg.Steps)
	}
	if len(cfg.Stops) != 1 || cfg.Stops[0] != "<eos>" {
		t.Fatalf("stops = %v, want [<eos>]", cfg.Stops)
	}
	if cfg.StreamMode != "smooth" {
		t.Fatalf("stream_mode = %q, want smooth", cfg.StreamMode)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("temperature: [oops"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
