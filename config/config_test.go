package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transporterd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeTempConfig(t, "namespace: demo\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace != "demo" {
		t.Fatalf("expected namespace 'demo', got %q", cfg.Namespace)
	}
	if cfg.TimeoutSeconds != 30 {
		t.Fatalf("expected default timeout 30, got %d", cfg.TimeoutSeconds)
	}
	if cfg.Codec != "json" {
		t.Fatalf("expected default codec 'json', got %q", cfg.Codec)
	}
	if cfg.MaxFrameBytes != 65536 {
		t.Fatalf("expected default max frame bytes 65536, got %d", cfg.MaxFrameBytes)
	}
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	path := writeTempConfig(t, "timeout_seconds: -5\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a negative timeout")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestNewCodecSelectsMsgpack(t *testing.T) {
	path := writeTempConfig(t, "codec: msgpack\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	codec, err := cfg.NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if codec.Budget() != cfg.MaxFrameBytes {
		t.Fatalf("expected codec budget %d, got %d", cfg.MaxFrameBytes, codec.Budget())
	}
}

func TestNewCodecRejectsUnknownName(t *testing.T) {
	path := writeTempConfig(t, "codec: protobuf\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.NewCodec(); err == nil {
		t.Fatalf("expected an error for an unknown codec name")
	}
}
