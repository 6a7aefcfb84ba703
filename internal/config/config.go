package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config holds all solesync configuration
type Config struct {
	// Local daemon settings
	Server ServerConfig `json:"server"`

	// Remote sync backend (mutation/action surface)
	Backend BackendConfig `json:"backend"`

	// Offline operation queue bounds
	Queue QueueConfig `json:"queue"`

	// Connectivity detection
	Monitor MonitorConfig `json:"monitor"`

	// Sync pass pacing
	Sync SyncConfig `json:"sync"`

	// External worker link over MQTT
	Worker WorkerConfig `json:"worker,omitempty"`

	// Background housekeeping jobs
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

type BackendConfig struct {
	URL                string `json:"url"`
	DeploymentKey      string `json:"deploymentKey,omitempty"`
	DeviceID           string `json:"deviceId"`
	CallTimeoutSeconds int    `json:"callTimeoutSeconds"`
	TokenTTLMinutes    int    `json:"tokenTtlMinutes"`
}

// QueueConfig bounds the offline queue. Treated as immutable after startup.
type QueueConfig struct {
	MaxSize            int                `json:"maxSize"`
	MaxRetryAttempts   int                `json:"maxRetryAttempts"`
	SyncBatchSize      int                `json:"syncBatchSize"`
	PriorityThresholds PriorityThresholds `json:"priorityThresholds"`
	RulesPath          string             `json:"rulesPath,omitempty"`
}

// PriorityThresholds split queued operations into sync buckets:
// priority >= Immediate syncs first, >= Background second, the rest last.
type PriorityThresholds struct {
	Immediate  int `json:"immediate"`
	Background int `json:"background"`
}

type MonitorConfig struct {
	CheckIntervalSeconds int  `json:"checkIntervalSeconds"`
	ProbeTimeoutSeconds  int  `json:"probeTimeoutSeconds"`
	DwellMillis          int  `json:"dwellMillis"`
	RealtimeEvents       bool `json:"realtimeEvents"`
}

type SyncConfig struct {
	OpTimeoutSeconds    int `json:"opTimeoutSeconds"`
	BucketPauseMillis   int `json:"bucketPauseMillis"`
	DeferredPauseMillis int `json:"deferredPauseMillis"`
	BatchPauseMillis    int `json:"batchPauseMillis"`
}

type WorkerConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"brokerUrl,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	TopicPrefix string `json:"topicPrefix,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

type MaintenanceConfig struct {
	Enabled              bool   `json:"enabled"`
	CompactionSchedule   string `json:"compactionSchedule,omitempty"`
	StatusSchedule       string `json:"statusSchedule,omitempty"`
	DroppedRetentionDays int    `json:"droppedRetentionDays,omitempty"`
}

// DefaultConfig returns a config suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8425,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Backend: BackendConfig{
			URL:                "http://localhost:8620",
			DeviceID:           "solesync-local",
			CallTimeoutSeconds: 10,
			TokenTTLMinutes:    60,
		},
		Queue: QueueConfig{
			MaxSize:          100,
			MaxRetryAttempts: 3,
			SyncBatchSize:    5,
			PriorityThresholds: PriorityThresholds{
				Immediate:  80,
				Background: 50,
			},
			RulesPath: "priorities.toml",
		},
		Monitor: MonitorConfig{
			CheckIntervalSeconds: 2,
			ProbeTimeoutSeconds:  3,
			DwellMillis:          0, // act on flips immediately
			RealtimeEvents:       true,
		},
		Sync: SyncConfig{
			OpTimeoutSeconds:    15,
			BucketPauseMillis:   100,
			DeferredPauseMillis: 500,
			BatchPauseMillis:    50,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			BrokerURL:   "tcp://localhost:1883",
			TopicPrefix: "solesync/worker",
		},
		Maintenance: MaintenanceConfig{
			Enabled:              true,
			CompactionSchedule:   "0 3 * * *",
			StatusSchedule:       "*/15 * * * *",
			DroppedRetentionDays: 14,
		},
	}
}

// Load reads config from a JSON file, overlaying the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate rejects values that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.logLevel unknown: %q", c.Server.LogLevel)
	}

	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.maxSize must be positive, got %d", c.Queue.MaxSize)
	}
	if c.Queue.MaxRetryAttempts <= 0 {
		return fmt.Errorf("queue.maxRetryAttempts must be positive, got %d", c.Queue.MaxRetryAttempts)
	}
	if c.Queue.SyncBatchSize <= 0 {
		return fmt.Errorf("queue.syncBatchSize must be positive, got %d", c.Queue.SyncBatchSize)
	}
	th := c.Queue.PriorityThresholds
	if th.Immediate < 0 || th.Immediate > 100 || th.Background < 0 || th.Background > 100 {
		return fmt.Errorf("queue.priorityThresholds must be within 0..100, got %d/%d", th.Immediate, th.Background)
	}
	if th.Immediate < th.Background {
		return fmt.Errorf("queue.priorityThresholds.immediate (%d) below background (%d)", th.Immediate, th.Background)
	}

	if c.Monitor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.checkIntervalSeconds must be positive, got %d", c.Monitor.CheckIntervalSeconds)
	}
	if c.Monitor.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.probeTimeoutSeconds must be positive, got %d", c.Monitor.ProbeTimeoutSeconds)
	}
	if c.Monitor.DwellMillis < 0 {
		return fmt.Errorf("monitor.dwellMillis must not be negative, got %d", c.Monitor.DwellMillis)
	}

	if c.Sync.OpTimeoutSeconds <= 0 {
		return fmt.Errorf("sync.opTimeoutSeconds must be positive, got %d", c.Sync.OpTimeoutSeconds)
	}

	if c.Worker.Enabled && c.Worker.BrokerURL == "" {
		return fmt.Errorf("worker.brokerUrl required when worker is enabled")
	}

	if c.Maintenance.Enabled {
		for name, expr := range map[string]string{
			"maintenance.compactionSchedule": c.CompactionScheduleOrDefault(),
			"maintenance.statusSchedule":     c.StatusScheduleOrDefault(),
		} {
			if _, err := cron.ParseStandard(expr); err != nil {
				return fmt.Errorf("%s invalid: %w", name, err)
			}
		}
	}

	return nil
}

// CompactionScheduleOrDefault falls back to nightly compaction.
func (c *Config) CompactionScheduleOrDefault() string {
	if c.Maintenance.CompactionSchedule == "" {
		return "0 3 * * *"
	}
	return c.Maintenance.CompactionSchedule
}

// StatusScheduleOrDefault falls back to a 15-minute heartbeat.
func (c *Config) StatusScheduleOrDefault() string {
	if c.Maintenance.StatusSchedule == "" {
		return "*/15 * * * *"
	}
	return c.Maintenance.StatusSchedule
}

// StorePath returns the sqlite file backing the queue snapshot.
func (c *Config) StorePath() string {
	return filepath.Join(c.Server.DataDir, "queue.db")
}
