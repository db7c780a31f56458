package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SIGNAL_PHONE_NUMBER", "+15550001")
	t.Setenv("SIGNAL_SERVICE_URL", "ws://localhost:8080")
	t.Setenv("SIGNAL_API_URL", "http://localhost:8081")
}

func TestLoadAppliesDefaultsOverEnv(t *testing.T) {
	baseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerPoolSize != 4 || cfg.QueueCapacity != 200 {
		t.Fatalf("expected spec defaults, got %+v", cfg)
	}
	if cfg.Backpressure != BackpressureBlock {
		t.Fatalf("expected default backpressure policy 'block', got %s", cfg.Backpressure)
	}
}

func TestLoadRejectsMissingPhoneNumber(t *testing.T) {
	t.Setenv("SIGNAL_SERVICE_URL", "ws://localhost:8080")
	t.Setenv("SIGNAL_API_URL", "http://localhost:8081")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject a config with no phone_number")
	}
}

func TestLoadRejectsStorageWithoutPath(t *testing.T) {
	baseEnv(t)
	t.Setenv("SIGNAL_STORAGE", "embedded_sql")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to require storage_path for a non-memory storage kind")
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	baseEnv(t)
	t.Setenv("SIGNAL_WORKER_POOL_SIZE", "8")
	t.Setenv("SIGNAL_BACKPRESSURE", "drop_oldest")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerPoolSize != 8 {
		t.Fatalf("expected env override to win, got %d", cfg.WorkerPoolSize)
	}
	if cfg.Backpressure != BackpressureDropOldest {
		t.Fatalf("expected env override for backpressure, got %s", cfg.Backpressure)
	}
}

func TestFileOverridesApplyBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signalbot.yaml")
	yamlBody := "worker_pool_size: 12\nqueue_capacity: 500\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	baseEnv(t)
	t.Setenv("SIGNAL_CONFIG_FILE", path)
	t.Setenv("SIGNAL_WORKER_POOL_SIZE", "20") // env still wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerPoolSize != 20 {
		t.Fatalf("expected env to override the file value, got %d", cfg.WorkerPoolSize)
	}
	if cfg.QueueCapacity != 500 {
		t.Fatalf("expected the file-only field to apply, got %d", cfg.QueueCapacity)
	}
}

func TestDefaultsMatchSpecValues(t *testing.T) {
	d := Defaults()
	if d.CircuitBreaker.OpenDuration != 30*time.Second {
		t.Fatalf("expected default open_duration of 30s, got %v", d.CircuitBreaker.OpenDuration)
	}
	if d.DLQ.Jitter != 0.1 {
		t.Fatalf("expected default jitter of 0.1, got %v", d.DLQ.Jitter)
	}
}
