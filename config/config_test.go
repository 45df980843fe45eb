package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutEnvFile(t *testing.T) {
	t.Setenv("ARENA_ADDR", "")
	c, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Addr != ":8080" || c.ArenaRegen != 10 || c.StorageDriver != "memory" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadReadsEnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "arena.env")
	body := "ARENA_WIDTH=1024\nSYNC_INTERVAL=90s\nSTORAGE_DRIVER=sqlite3\nSTORAGE_DSN=file:test.db\n"
	if err := os.WriteFile(envFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// godotenv 不覆盖已存在的变量；t.Setenv 结束时会恢复
	for _, k := range []string{"ARENA_WIDTH", "SYNC_INTERVAL", "STORAGE_DRIVER", "STORAGE_DSN"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("ARENA_REGEN", "25")

	c, err := Load(envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ArenaWidth != 1024 {
		t.Fatalf("expected width from env file, got %v", c.ArenaWidth)
	}
	if c.SyncInterval != 90*time.Second {
		t.Fatalf("expected 90s sync interval, got %v", c.SyncInterval)
	}
	if c.ArenaRegen != 25 {
		t.Fatalf("expected regen from environment, got %d", c.ArenaRegen)
	}
	if c.StorageDriver != "sqlite3" || c.StorageDSN != "file:test.db" {
		t.Fatalf("unexpected storage config: %s %s", c.StorageDriver, c.StorageDSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Default()
	c.StorageDriver = "postgres"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
	c = Default()
	c.ArenaRegen = 101
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for regen > 100")
	}
	t.Setenv("ARENA_REGEN", "lots")
	if _, err := Load(filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Fatalf("expected parse error for non-numeric regen")
	}
}
