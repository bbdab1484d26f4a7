package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oddjobs/oj/internal/config"
)

func TestNewFromConfig_DefaultsToStderr(t *testing.T) {
	cfg := &config.Config{
		Logging: config.LoggingConfig{
			Level:  config.LogLevelInfo,
			Format: config.LogFormatJSON,
			File:   "",
		},
	}

	logger, closer, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if closer != nil {
		t.Error("Expected no closer when no file configured")
	}
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestNewFromConfig_WritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Paths: config.PathsConfig{StateDir: dir},
		Logging: config.LoggingConfig{
			Level:  config.LogLevelDebug,
			Format: config.LogFormatJSON,
			File:   "daemon.log",
		},
	}

	logger, closer, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if closer == nil {
		t.Fatal("Expected closer when file configured")
	}
	defer closer.Close()

	logger.Info("test message", "key", "value")

	data, err := readFileTrimmed(filepath.Join(dir, "daemon.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(data, "test message") {
		t.Errorf("Log file does not contain expected message: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input config.LogLevel
		want  slog.Level
	}{
		{config.LogLevelDebug, slog.LevelDebug},
		{config.LogLevelInfo, slog.LevelInfo},
		{config.LogLevelWarn, slog.LevelWarn},
		{config.LogLevelError, slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	handler := newHandler(config.LogFormatJSON, &buf, slog.LevelInfo)
	logger := slog.New(handler)

	logger.Info("test", "key", "value")

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("JSON unmarshal failed: %v (output: %s)", err, buf.String())
	}

	if result["msg"] != "test" {
		t.Errorf("msg = %v, want test", result["msg"])
	}
	if result["key"] != "value" {
		t.Errorf("key = %v, want value", result["key"])
	}
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	handler := newHandler(config.LogFormatText, &buf, slog.LevelInfo)
	logger := slog.New(handler)

	logger.Info("test", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test") {
		t.Errorf("output should contain 'test': %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("output should contain 'key=value': %s", output)
	}
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestNewForTest(t *testing.T) {
	logger := NewForTest()
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
	logger.Info("test message")
}

func TestNewWithLevel(t *testing.T) {
	logger := NewWithLevel(slog.LevelDebug)
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(handler)

	enriched := WithFields(logger, "field1", "value1", "field2", 42)
	enriched.Info("test")

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}

	if result["field1"] != "value1" {
		t.Errorf("field1 = %v, want value1", result["field1"])
	}
	if result["field2"] != float64(42) {
		t.Errorf("field2 = %v, want 42", result["field2"])
	}
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithJob(logger, "job-001").Info("test")

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}
	if result["job_id"] != "job-001" {
		t.Errorf("job_id = %v, want job-001", result["job_id"])
	}
}

func TestWithWorker(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithWorker(logger, "ns", "fixer").Info("test")

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}
	if result["worker"] != "fixer" || result["namespace"] != "ns" {
		t.Errorf("unexpected fields: %v", result)
	}
}

func TestWithCron(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithCron(logger, "ns", "janitor").Info("test")

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}
	if result["cron"] != "janitor" || result["namespace"] != "ns" {
		t.Errorf("unexpected fields: %v", result)
	}
}

func TestWithAgent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	WithAgent(logger, "claude-1").Info("test")

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}
	if result["agent"] != "claude-1" {
		t.Errorf("agent = %v, want claude-1", result["agent"])
	}
}

func readFileTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}
