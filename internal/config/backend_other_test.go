//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devinv", "config.json")

	b := newFileBackend(path)
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("gateway.base_url", "http://example.test"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reloaded := newFileBackend(path)
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = %d, %v, %v; want 4300", port, ok, err)
	}
	url, ok, _ := reloaded.GetString("gateway.base_url")
	if !ok || url != "http://example.test" {
		t.Errorf("GetString = %q, %v", url, ok)
	}

	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileBackend(path).GetInt("server.port"); ok {
		t.Error("server.port still present after Delete")
	}
}

func TestFileBackend_MalformedFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
}

func TestFileBackend_NonIntegerPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port": 12.5}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := newFileBackend(path).GetInt("server.port"); err == nil {
		t.Error("expected error for fractional port")
	}
}

func TestFileBackend_Bool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"legacy": "true", "broken": "maybe", "wrong": 3}`), 0o600); err != nil {
		t.Fatal(err)
	}

	b := newFileBackend(path)
	if err := b.SetBool("connectivity.force_offline", true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}

	reloaded := newFileBackend(path)
	if v, ok, err := reloaded.GetBool("connectivity.force_offline"); err != nil || !ok || !v {
		t.Errorf("GetBool = %v, %v, %v; want true", v, ok, err)
	}
	if v, ok, err := reloaded.GetBool("legacy"); err != nil || !ok || !v {
		t.Errorf("GetBool(legacy) = %v, %v, %v; want true", v, ok, err)
	}
	if _, ok, _ := reloaded.GetBool("missing"); ok {
		t.Error("GetBool(missing) reported ok")
	}
	for _, key := range []string{"broken", "wrong"} {
		if _, _, err := reloaded.GetBool(key); err == nil {
			t.Errorf("GetBool(%s) returned no error", key)
		}
	}
}

func TestFileBackend_BadBoolUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"connectivity.force_offline": "maybe"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Connectivity.ForceOffline {
		t.Error("ForceOffline = true, want default false")
	}
}
