// Package config loads and validates toska's YAML configuration file.
// Adapted from the teacher's pkg/config/config.go: defaults-then-overlay
// Load, struct-tag-driven yaml.v3 parsing, explicit Validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure (spec.md §6.3).
type Config struct {
	NodeID  string        `yaml:"node_id"`
	BindAddr string       `yaml:"bind_addr"`
	Storage StorageConfig `yaml:"storage"`
	Access  AccessConfig  `yaml:"access"`
	Replica ReplicaConfig `yaml:"replica"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig controls the data directory and persistence timing.
type StorageConfig struct {
	DataDir               string        `yaml:"data_dir"`
	AOFFile               string        `yaml:"aof_file"`
	SnapshotFile          string        `yaml:"snapshot_file"`
	SyncMode              string        `yaml:"sync_mode"` // always | interval | none
	SyncIntervalMS        int           `yaml:"sync_interval_ms"`
	SnapshotIntervalMS    int           `yaml:"snapshot_interval_ms"`
	TTLCheckIntervalMS    int           `yaml:"ttl_check_interval_ms"`
	CompactionIntervalMS  int           `yaml:"compaction_interval_ms"`
	CompactionAOFBytes    int64         `yaml:"compaction_aof_bytes"`
}

// AccessConfig controls authentication and rate limiting (C8/C9).
type AccessConfig struct {
	AuthToken       string  `yaml:"auth_token"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  float64 `yaml:"rate_limit_burst"`
}

// ReplicaConfig controls follower behavior (C7). A non-empty LeaderURL puts
// the node into follower (read-only) mode.
type ReplicaConfig struct {
	LeaderURL         string `yaml:"leader_url"`
	PollIntervalMS    int    `yaml:"poll_interval_ms"`
	HTTPTimeoutMS     int    `yaml:"http_timeout_ms"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	EnableConsole bool   `yaml:"enable_console"`
	EnableFile    bool   `yaml:"enable_file"`
	LogFile       string `yaml:"log_file"`
	BufferSize    int    `yaml:"buffer_size"`
}

// Load reads path, overlaying it on production-ready defaults. A missing
// file is not an error: defaults are returned as-is, matching the teacher's
// Load behavior.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "config: %s not found, using defaults\n", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		NodeID:   "toska-node-1",
		BindAddr: ":7070",
		Storage: StorageConfig{
			DataDir:              "./data",
			AOFFile:              "toska.aof",
			SnapshotFile:         "toska_snapshot.json",
			SyncMode:             "interval",
			SyncIntervalMS:       1000,
			SnapshotIntervalMS:   300000,
			TTLCheckIntervalMS:   1000,
			CompactionIntervalMS: 300000,
			CompactionAOFBytes:   10 * 1024 * 1024,
		},
		Access: AccessConfig{
			AuthToken:       "",
			RateLimitPerSec: 0,
			RateLimitBurst:  0,
		},
		Replica: ReplicaConfig{
			LeaderURL:      "",
			PollIntervalMS: 1000,
			HTTPTimeoutMS:  5000,
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			BufferSize:    1000,
		},
	}
}

// Validate rejects structurally invalid configuration before the process
// reaches the storage layer.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id cannot be empty")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir cannot be empty")
	}
	if !isValidSyncMode(c.Storage.SyncMode) {
		return fmt.Errorf("invalid storage.sync_mode: %s", c.Storage.SyncMode)
	}
	if c.Storage.CompactionAOFBytes < 0 {
		return fmt.Errorf("storage.compaction_aof_bytes must be >= 0")
	}
	if c.Access.RateLimitPerSec < 0 || c.Access.RateLimitBurst < 0 {
		return fmt.Errorf("access.rate_limit_per_sec and rate_limit_burst must be >= 0")
	}
	return nil
}

func isValidSyncMode(mode string) bool {
	switch mode {
	case "always", "interval", "none":
		return true
	default:
		return false
	}
}
