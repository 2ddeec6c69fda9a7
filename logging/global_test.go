package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" error ", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLogLevel(tt.input)
			if got != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInitLoggerWritesJSONFile(t *testing.T) {
	previous := DefaultLoggingService
	previousDefault := slog.Default()
	t.Cleanup(func() {
		DefaultLoggingService = previous
		slog.SetDefault(previousDefault)
	})

	dir := t.TempDir()
	service := InitLogger(dir, "svc", "debug", 4, 1024*1024)
	defer service.Close()

	Debug("debug message", "key", "value")
	Info("info message")

	matches, err := filepath.Glob(filepath.Join(dir, "svc-*.log"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 log file, got %d: %v", len(matches), matches)
	}

	content, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	logs := string(content)
	if !strings.Contains(logs, `"msg":"debug message"`) || !strings.Contains(logs, `"key":"value"`) {
		t.Errorf("expected JSON debug record in log file, got: %s", logs)
	}
	if !strings.Contains(logs, `"msg":"info message"`) {
		t.Errorf("expected JSON info record in log file, got: %s", logs)
	}
}

func TestInitLoggerRespectsLevel(t *testing.T) {
	previous := DefaultLoggingService
	previousDefault := slog.Default()
	t.Cleanup(func() {
		DefaultLoggingService = previous
		slog.SetDefault(previousDefault)
	})

	dir := t.TempDir()
	service := InitLogger(dir, "svc", "warn", 4, 1024*1024)
	defer service.Close()

	Info("should be filtered")
	Warn("should be kept")

	matches, _ := filepath.Glob(filepath.Join(dir, "svc-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(matches))
	}
	content, _ := os.ReadFile(matches[0])

	if strings.Contains(string(content), "should be filtered") {
		t.Error("info record written although level is warn")
	}
	if !strings.Contains(string(content), "should be kept") {
		t.Error("warn record missing")
	}
}

func TestPackageFunctionsWithoutInit(t *testing.T) {
	previous := DefaultLoggingService
	DefaultLoggingService = nil
	t.Cleanup(func() { DefaultLoggingService = previous })

	// Must not panic before InitLogger
	Info("info")
	Warn("warn")
	Error("error")
	Debug("debug")
}

func TestLoggingServiceCloseNil(t *testing.T) {
	var s *LoggingService
	if err := s.Close(); err != nil {
		t.Errorf("expected nil error closing nil service, got %v", err)
	}
}
