package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	content := "virtualRoot: /srv/export\nreadOnly: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Listen != ":2345" {
		t.Errorf("expected default listen address, got %q", cfg.Listen)
	}
	if cfg.VirtualRoot != "/srv/export" {
		t.Errorf("expected virtualRoot override, got %q", cfg.VirtualRoot)
	}
	if !cfg.ReadOnly {
		t.Error("expected readOnly true")
	}
}

func TestLoadServerMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.VirtualRoot != "." {
		t.Errorf("expected default virtualRoot, got %q", cfg.VirtualRoot)
	}
}

func TestLoadClientParsesCacheDurationAndHidePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := "url: ws://localhost:2345\ncacheTimeout: 5s\nhidePath:\n  - /.snapshot\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.CacheTTL != 5*time.Second {
		t.Errorf("expected 5s cache TTL, got %v", cfg.CacheTTL)
	}
	if len(cfg.HidePath) != 1 || cfg.HidePath[0] != "/.snapshot" {
		t.Errorf("expected one hidePath entry, got %v", cfg.HidePath)
	}
}

func TestLoadClientDefaultsReconnectTrue(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if !cfg.Reconnect {
		t.Error("expected reconnect to default true")
	}
	if cfg.ReadTracking.Update != 10*time.Second {
		t.Errorf("expected default readTracking.update of 10s, got %v", cfg.ReadTracking.Update)
	}
}

func TestLoadClientParsesPerCacheTimeoutsAndReadTracking(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	content := "" +
		"url: ws://localhost:2345\n" +
		"cacheTimeout: 2s\n" +
		"cacheStatTimeout: 1s\n" +
		"cacheDirTimeout: 3s\n" +
		"cacheLinkTimeout: 4s\n" +
		"reconnect: false\n" +
		"readTracking:\n" +
		"  file: /tmp/tracked.txt\n" +
		"  modified: 30s\n" +
		"  timeout: 1h\n" +
		"  update: 15s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.CacheStatTimeout != time.Second {
		t.Errorf("expected 1s stat cache timeout, got %v", cfg.CacheStatTimeout)
	}
	if cfg.CacheDirTimeout != 3*time.Second {
		t.Errorf("expected 3s dir cache timeout, got %v", cfg.CacheDirTimeout)
	}
	if cfg.CacheLinkTimeout != 4*time.Second {
		t.Errorf("expected 4s link cache timeout, got %v", cfg.CacheLinkTimeout)
	}
	if cfg.Reconnect {
		t.Error("expected reconnect override to false")
	}
	if cfg.ReadTracking.File != "/tmp/tracked.txt" {
		t.Errorf("expected readTracking.file override, got %q", cfg.ReadTracking.File)
	}
	if cfg.ReadTracking.Timeout != time.Hour {
		t.Errorf("expected readTracking.timeout of 1h, got %v", cfg.ReadTracking.Timeout)
	}
	if cfg.ReadTracking.Update != 15*time.Second {
		t.Errorf("expected readTracking.update of 15s, got %v", cfg.ReadTracking.Update)
	}
}
