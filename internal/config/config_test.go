package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FailsWithoutVendorSerialWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected an error because vendor/serial are unset")
	}
	_ = cfg
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "vendor: ACME\nserial: \"123\"\nlisten_addr: \":9999\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vendor != "ACME" || cfg.Serial != "123" {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.WaitForReadyTimeout.Seconds() != 60 {
		t.Errorf("expected default WaitForReadyTimeout to survive, got %v", cfg.WaitForReadyTimeout)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("vendor: ACME\nserial: \"1\"\n"), 0o600)

	t.Setenv("EEBUS_VENDOR", "OVERRIDE")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vendor != "OVERRIDE" {
		t.Errorf("Vendor = %q, want OVERRIDE (env should win)", cfg.Vendor)
	}
}
