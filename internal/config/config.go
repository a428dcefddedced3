package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Worker        WorkerConfig        `toml:"worker"`
	Generation    GenerationConfig    `toml:"generation"`
	Ingest        IngestConfig        `toml:"ingest"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds paths and storage settings
type GeneralConfig struct {
	DataDir      string `toml:"data_dir"`
	DatabasePath string `toml:"database_path"`
	SnapshotPath string `toml:"snapshot_path"`
	RoutingPath  string `toml:"routing_path"`
	InboxDir     string `toml:"inbox_dir"`
}

// WorkerConfig holds scheduler settings
type WorkerConfig struct {
	WatchIntervalSeconds int `toml:"watch_interval_seconds"`
	StaleAfterMinutes    int `toml:"stale_after_minutes"`
}

// GenerationConfig holds settings for the external generation service
type GenerationConfig struct {
	Command        string `toml:"command"`
	DefaultModel   string `toml:"default_model"`
	TimeoutMinutes int    `toml:"timeout_minutes"`
}

// IngestConfig holds ticket-source settings
type IngestConfig struct {
	Repo  string `toml:"repo"`
	Label string `toml:"label"`
	Cron  string `toml:"cron"` // optional ingestion schedule for watch mode
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".pipeline-orchestrator")
	return &Config{
		General: GeneralConfig{
			DataDir:      dataDir,
			DatabasePath: filepath.Join(dataDir, "orchestrator.db"),
			SnapshotPath: filepath.Join(dataDir, "snapshot.json"),
			RoutingPath:  filepath.Join(dataDir, "routing.yaml"),
			InboxDir:     filepath.Join(dataDir, "inbox"),
		},
		Worker: WorkerConfig{
			WatchIntervalSeconds: 30,
			StaleAfterMinutes:    30,
		},
		Generation: GenerationConfig{
			Command:        "claude",
			DefaultModel:   "claude-sonnet-4-20250514",
			TimeoutMinutes: 40, // local large models are slow
		},
		Ingest: IngestConfig{
			Label: "autopilot",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.SnapshotPath = ExpandPath(cfg.General.SnapshotPath)
	cfg.General.RoutingPath = ExpandPath(cfg.General.RoutingPath)
	cfg.General.InboxDir = ExpandPath(cfg.General.InboxDir)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pipeline-orchestrator", "config.toml")
}

// WatchInterval returns the watch-loop interval as a duration
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Worker.WatchIntervalSeconds) * time.Second
}

// StaleThreshold returns how long an item may process before it is
// considered stale and force-failed.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Worker.StaleAfterMinutes) * time.Minute
}

// LockPath returns the worker lock marker location
func (c *Config) LockPath() string {
	return filepath.Join(c.General.DataDir, "worker.lock")
}

// PGIDPath returns the active pipeline process-group marker location
func (c *Config) PGIDPath() string {
	return filepath.Join(c.General.DataDir, "pipeline.pgid")
}

// RunsDir returns the root directory for per-run artifact directories
func (c *Config) RunsDir() string {
	return filepath.Join(c.General.DataDir, "runs")
}
