package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apify/storage-local-go/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.StorageDir != "./apify_storage" {
		t.Errorf("StorageDir = %q, want ./apify_storage", cfg.StorageDir)
	}
	if !cfg.EnableWalMode {
		t.Error("EnableWalMode = false, want true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_NoFile_UsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDir != "./apify_storage" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
}

func TestLoad_YAMLOverride(t *testing.T) {
	path := writeTemp(t, "storage_dir: /tmp/my_storage\nenable_wal_mode: false\nlog_level: debug\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDir != "/tmp/my_storage" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
	if cfg.EnableWalMode {
		t.Error("EnableWalMode = true, want false")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTemp(t, "storage_dir: /tmp/from_file\nenable_wal_mode: true\n")
	t.Setenv("APIFY_LOCAL_STORAGE_DIR", "/tmp/from_env")
	t.Setenv("APIFY_LOCAL_STORAGE_ENABLE_WAL_MODE", "false")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDir != "/tmp/from_env" {
		t.Errorf("StorageDir = %q, want env value to win", cfg.StorageDir)
	}
	if cfg.EnableWalMode {
		t.Error("EnableWalMode = true, want env override false to win")
	}
}

func TestLoad_EnvOnly_NoFile(t *testing.T) {
	t.Setenv("APIFY_LOCAL_STORAGE_DIR", "/tmp/env_only")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDir != "/tmp/env_only" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeTemp(t, "log_level: verbose\n")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err.Error())
	}
}

func TestLoad_EmptyStorageDir(t *testing.T) {
	path := writeTemp(t, "storage_dir: \"\"\n")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for empty storage_dir, got nil")
	}
	if !strings.Contains(err.Error(), "storage_dir") {
		t.Errorf("error %q does not mention storage_dir", err.Error())
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.Load(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "storage_dir: [unclosed\n")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}
