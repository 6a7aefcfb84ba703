package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8425 {
		t.Errorf("expected port 8425, got %d", cfg.Server.Port)
	}

	if cfg.Server.DataDir != "./data" {
		t.Errorf("expected dataDir ./data, got %s", cfg.Server.DataDir)
	}

	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected logLevel info, got %s", cfg.Server.LogLevel)
	}

	if cfg.Queue.MaxSize != 100 {
		t.Errorf("expected maxSize 100, got %d", cfg.Queue.MaxSize)
	}

	if cfg.Queue.MaxRetryAttempts != 3 {
		t.Errorf("expected maxRetryAttempts 3, got %d", cfg.Queue.MaxRetryAttempts)
	}

	if cfg.Queue.SyncBatchSize != 5 {
		t.Errorf("expected syncBatchSize 5, got %d", cfg.Queue.SyncBatchSize)
	}

	if cfg.Queue.PriorityThresholds.Immediate != 80 {
		t.Errorf("expected immediate threshold 80, got %d", cfg.Queue.PriorityThresholds.Immediate)
	}

	if cfg.Queue.PriorityThresholds.Background != 50 {
		t.Errorf("expected background threshold 50, got %d", cfg.Queue.PriorityThresholds.Background)
	}

	if cfg.Monitor.CheckIntervalSeconds != 2 {
		t.Errorf("expected checkIntervalSeconds 2, got %d", cfg.Monitor.CheckIntervalSeconds)
	}

	if cfg.Monitor.DwellMillis != 0 {
		t.Errorf("expected dwellMillis 0, got %d", cfg.Monitor.DwellMillis)
	}

	if cfg.Worker.Enabled {
		t.Error("expected worker disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	testCfg := DefaultConfig()
	testCfg.Server.Port = 9999
	testCfg.Server.DataDir = filepath.Join(tmpDir, "test-data")
	testCfg.Server.LogLevel = "debug"
	testCfg.Backend.URL = "https://sync.stride.example"
	testCfg.Queue.MaxSize = 25

	if err := testCfg.Save(configPath); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if loaded.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", loaded.Server.Port)
	}

	if loaded.Backend.URL != "https://sync.stride.example" {
		t.Errorf("expected backend url to round-trip, got %s", loaded.Backend.URL)
	}

	if loaded.Queue.MaxSize != 25 {
		t.Errorf("expected maxSize 25, got %d", loaded.Queue.MaxSize)
	}

	// Fields absent from the file keep their defaults
	if loaded.Queue.PriorityThresholds.Immediate != 80 {
		t.Errorf("expected default immediate threshold, got %d", loaded.Queue.PriorityThresholds.Immediate)
	}

	if _, err := os.Stat(loaded.Server.DataDir); err != nil {
		t.Errorf("expected data dir to be created: %v", err)
	}
}

func TestLoadPartialOverlay(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	partial := `{"server": {"port": 8080, "dataDir": "` + filepath.ToSlash(tmpDir) + `/d", "logLevel": "warn"}}`
	if err := os.WriteFile(configPath, []byte(partial), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Monitor.CheckIntervalSeconds != 2 {
		t.Errorf("expected default check interval, got %d", cfg.Monitor.CheckIntervalSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte("{not json"), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero max size", func(c *Config) { c.Queue.MaxSize = 0 }, "maxSize"},
		{"zero retries", func(c *Config) { c.Queue.MaxRetryAttempts = 0 }, "maxRetryAttempts"},
		{"zero batch", func(c *Config) { c.Queue.SyncBatchSize = 0 }, "syncBatchSize"},
		{"threshold above range", func(c *Config) { c.Queue.PriorityThresholds.Immediate = 101 }, "0..100"},
		{"inverted thresholds", func(c *Config) {
			c.Queue.PriorityThresholds.Immediate = 40
			c.Queue.PriorityThresholds.Background = 60
		}, "below background"},
		{"zero poll interval", func(c *Config) { c.Monitor.CheckIntervalSeconds = 0 }, "checkIntervalSeconds"},
		{"negative dwell", func(c *Config) { c.Monitor.DwellMillis = -1 }, "dwellMillis"},
		{"zero op timeout", func(c *Config) { c.Sync.OpTimeoutSeconds = 0 }, "opTimeoutSeconds"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "loud" }, "logLevel"},
		{"worker without broker", func(c *Config) {
			c.Worker.Enabled = true
			c.Worker.BrokerURL = ""
		}, "brokerUrl"},
		{"bad cron", func(c *Config) { c.Maintenance.CompactionSchedule = "nonsense" }, "compactionSchedule"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/var/lib/solesync"

	if got := cfg.StorePath(); got != filepath.Join("/var/lib/solesync", "queue.db") {
		t.Errorf("unexpected store path: %s", got)
	}
}
