// Package config loads the daemon's own settings (as distinct from runbook
// files, which the runbook package owns): paths, logging, engine intervals,
// metrics, the file watcher, and per-session tmux defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds the daemon's on-disk layout root.
type PathsConfig struct {
	StateDir string `toml:"state_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// EngineConfig holds the dispatch loop's tunables.
type EngineConfig struct {
	WatcherPollMs int `toml:"watcher_poll_ms"`
	SessionPollMs int `toml:"session_poll_ms"`
}

// MetricsConfig holds the usage-metrics collector's tunables.
type MetricsConfig struct {
	IntervalSecs int   `toml:"interval_secs"`
	RotateBytes  int64 `toml:"rotate_bytes"`
	RotateKeep   int   `toml:"rotate_keep"`
	GhostEveryN  int   `toml:"ghost_every_n"`
}

// SessionConfig holds defaults applied to every spawned multiplexer session.
type SessionConfig struct {
	NamePrefix string `toml:"name_prefix"`
}

// Config is the daemon's own configuration, loaded once at startup.
type Config struct {
	Version string        `toml:"version"`
	Paths   PathsConfig   `toml:"paths"`
	Logging LoggingConfig `toml:"logging"`
	Engine  EngineConfig  `toml:"engine"`
	Metrics MetricsConfig `toml:"metrics"`
	Session SessionConfig `toml:"session"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			StateDir: defaultStateDir(),
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   "daemon.log",
		},
		Engine: EngineConfig{
			WatcherPollMs: 5000,
			SessionPollMs: 1000,
		},
		Metrics: MetricsConfig{
			IntervalSecs: 30,
			RotateBytes:  10 * 1024 * 1024,
			RotateKeep:   3,
			GhostEveryN:  10,
		},
		Session: SessionConfig{
			NamePrefix: "oj-",
		},
	}
}

// defaultStateDir resolves $XDG_STATE_HOME/oj or ~/.local/state/oj.
func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "oj")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oj-state"
	}
	return filepath.Join(home, ".local", "state", "oj")
}

// Load loads configuration from path, merging with defaults, then applies
// OJ_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place per the environment variables the
// daemon consumes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OJ_STATE_DIR"); v != "" {
		cfg.Paths.StateDir = v
	}
	if v := os.Getenv("OJ_WATCHER_POLL_MS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Engine.WatcherPollMs = n
		}
	}
	if v := os.Getenv("OJ_SESSION_POLL_MS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Engine.SessionPollMs = n
		}
	}
	if v := os.Getenv("OJ_METRICS_INTERVAL_SECS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			cfg.Metrics.IntervalSecs = n
		}
	}
}

func parseIntEnv(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Engine.WatcherPollMs <= 0 {
		return fmt.Errorf("watcher_poll_ms must be positive")
	}
	if c.Engine.SessionPollMs <= 0 {
		return fmt.Errorf("session_poll_ms must be positive")
	}
	return nil
}

// WatcherPollInterval returns the watcher poll interval as a Duration.
func (c *Config) WatcherPollInterval() time.Duration {
	return time.Duration(c.Engine.WatcherPollMs) * time.Millisecond
}

// SessionPollInterval returns the session poll interval as a Duration.
func (c *Config) SessionPollInterval() time.Duration {
	return time.Duration(c.Engine.SessionPollMs) * time.Millisecond
}

// MetricsInterval returns the metrics collector interval as a Duration.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalSecs) * time.Second
}

// SockPath, PidPath, VersionPath, WALPath, SnapshotPath, MetricsPath,
// WorkspacesDir and LogsDir resolve the fixed on-disk layout under StateDir.
func (c *Config) SockPath() string      { return filepath.Join(c.Paths.StateDir, "daemon.sock") }
func (c *Config) PidPath() string       { return filepath.Join(c.Paths.StateDir, "daemon.pid") }
func (c *Config) VersionPath() string   { return filepath.Join(c.Paths.StateDir, "daemon.version") }
func (c *Config) WALPath() string       { return filepath.Join(c.Paths.StateDir, "wal", "events.wal") }
func (c *Config) SnapshotPath() string  { return filepath.Join(c.Paths.StateDir, "snapshot.json") }
func (c *Config) MetricsPath() string   { return filepath.Join(c.Paths.StateDir, "metrics", "usage.jsonl") }
func (c *Config) WorkspacesDir() string { return filepath.Join(c.Paths.StateDir, "workspaces") }
func (c *Config) LogsDir() string       { return filepath.Join(c.Paths.StateDir, "logs") }

// LogFile returns the absolute log file path.
func (c *Config) LogFile() string {
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.Paths.StateDir, c.Logging.File)
}
