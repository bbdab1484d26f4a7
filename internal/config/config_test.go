package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != "1" {
		t.Errorf("Version = %s, want 1", cfg.Version)
	}
	if cfg.Paths.StateDir == "" {
		t.Error("StateDir should not be empty")
	}
	if cfg.Logging.Level != LogLevelInfo {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Engine.WatcherPollMs != 5000 {
		t.Errorf("WatcherPollMs = %d, want 5000", cfg.Engine.WatcherPollMs)
	}
	if cfg.Engine.SessionPollMs != 1000 {
		t.Errorf("SessionPollMs = %d, want 1000", cfg.Engine.SessionPollMs)
	}
	if cfg.Metrics.IntervalSecs != 30 {
		t.Errorf("Metrics.IntervalSecs = %d, want 30", cfg.Metrics.IntervalSecs)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
version = "2"

[paths]
state_dir = "custom/state"

[engine]
watcher_poll_ms = 2000
session_poll_ms = 500

[metrics]
interval_secs = 15

[logging]
level = "debug"
format = "text"
file = "custom.log"
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Version != "2" {
		t.Errorf("Version = %s, want 2", cfg.Version)
	}
	if cfg.Paths.StateDir != "custom/state" {
		t.Errorf("StateDir = %s, want custom/state", cfg.Paths.StateDir)
	}
	if cfg.Engine.WatcherPollMs != 2000 {
		t.Errorf("WatcherPollMs = %d, want 2000", cfg.Engine.WatcherPollMs)
	}
	if cfg.Metrics.IntervalSecs != 15 {
		t.Errorf("Metrics.IntervalSecs = %d, want 15", cfg.Metrics.IntervalSecs)
	}
	if cfg.Logging.Level != LogLevelDebug {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load should not fail for non-existent file: %v", err)
	}

	if cfg.Version != "1" {
		t.Errorf("Should return defaults, got version = %s", cfg.Version)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `invalid = [toml content`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load should fail for invalid TOML")
	}
}

func TestLoad_ReadError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Error("Load should fail when trying to read a directory")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OJ_STATE_DIR", "/env/state")
	t.Setenv("OJ_WATCHER_POLL_MS", "9000")
	t.Setenv("OJ_METRICS_INTERVAL_SECS", "60")

	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Paths.StateDir != "/env/state" {
		t.Errorf("StateDir = %s, want /env/state", cfg.Paths.StateDir)
	}
	if cfg.Engine.WatcherPollMs != 9000 {
		t.Errorf("WatcherPollMs = %d, want 9000", cfg.Engine.WatcherPollMs)
	}
	if cfg.Metrics.IntervalSecs != 60 {
		t.Errorf("Metrics.IntervalSecs = %d, want 60", cfg.Metrics.IntervalSecs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "valid default config", cfg: Default(), wantErr: false},
		{name: "missing version", cfg: &Config{Paths: PathsConfig{StateDir: "x"}, Engine: EngineConfig{WatcherPollMs: 1, SessionPollMs: 1}}, wantErr: true},
		{name: "missing state_dir", cfg: &Config{Version: "1", Engine: EngineConfig{WatcherPollMs: 1, SessionPollMs: 1}}, wantErr: true},
		{name: "zero watcher poll", cfg: &Config{Version: "1", Paths: PathsConfig{StateDir: "x"}, Engine: EngineConfig{WatcherPollMs: 0, SessionPollMs: 1}}, wantErr: true},
		{name: "zero session poll", cfg: &Config{Version: "1", Paths: PathsConfig{StateDir: "x"}, Engine: EngineConfig{WatcherPollMs: 1, SessionPollMs: 0}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_PathHelpers(t *testing.T) {
	cfg := Default()
	cfg.Paths.StateDir = "/project/state"

	if got := cfg.SockPath(); got != "/project/state/daemon.sock" {
		t.Errorf("SockPath = %s, want /project/state/daemon.sock", got)
	}
	if got := cfg.PidPath(); got != "/project/state/daemon.pid" {
		t.Errorf("PidPath = %s, want /project/state/daemon.pid", got)
	}
	if got := cfg.WALPath(); got != "/project/state/wal/events.wal" {
		t.Errorf("WALPath = %s, want /project/state/wal/events.wal", got)
	}
	if got := cfg.SnapshotPath(); got != "/project/state/snapshot.json" {
		t.Errorf("SnapshotPath = %s, want /project/state/snapshot.json", got)
	}

	cfg.Logging.File = "/absolute/daemon.log"
	if got := cfg.LogFile(); got != "/absolute/daemon.log" {
		t.Errorf("LogFile (abs) = %s, want /absolute/daemon.log", got)
	}
	cfg.Logging.File = "daemon.log"
	if got := cfg.LogFile(); got != "/project/state/daemon.log" {
		t.Errorf("LogFile (rel) = %s, want /project/state/daemon.log", got)
	}
}
