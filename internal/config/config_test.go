package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seatdesk/seatdesk/internal/config"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONFIG_FILE", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/seatdesk")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueMaxSize != 5000 {
		t.Errorf("QueueMaxSize = %d, want 5000", cfg.QueueMaxSize)
	}
	if cfg.BatchSize != 10 || cfg.BatchInterval != 5*time.Second {
		t.Errorf("batch = %d/%s, want 10/5s", cfg.BatchSize, cfg.BatchInterval)
	}
	if !cfg.RefundOnNoCapacity {
		t.Error("RefundOnNoCapacity should default to true")
	}
	if cfg.RedeemRatePerMinute != 10 {
		t.Errorf("RedeemRatePerMinute = %d, want 10", cfg.RedeemRatePerMinute)
	}
}

func TestLoad_FileUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seatdesk.yaml")
	body := "database_url: postgres://file/db\nbatch_size: 25\ncycle_pause: 3s\nrefund_on_no_capacity: false\nhttp_port: \"9000\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_PORT", "7000")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://file/db" {
		t.Errorf("DatabaseURL = %q, want value from file", cfg.DatabaseURL)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if cfg.CyclePause != 3*time.Second {
		t.Errorf("CyclePause = %s, want 3s", cfg.CyclePause)
	}
	if cfg.RefundOnNoCapacity {
		t.Error("RefundOnNoCapacity should come from file")
	}
	if cfg.HTTPPort != "7000" {
		t.Errorf("HTTPPort = %q, env should win over file", cfg.HTTPPort)
	}
}

func TestLoad_ProviderRateSetsSpacing(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/seatdesk")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PROVIDER_RATE_PER_SEC", "4")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RetrySpacing != 250*time.Millisecond {
		t.Errorf("RetrySpacing = %s, want 250ms", cfg.RetrySpacing)
	}
}

func TestLoad_RejectsZeroBatch(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/seatdesk")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BATCH_SIZE", "0")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for BATCH_SIZE=0")
	}
}
