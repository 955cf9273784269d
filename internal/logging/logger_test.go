package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, content []byte) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file and parent directories", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "nested", "livepatch.log")

		logger, err := NewLogger(logPath, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
		rw := logger.RotatingWriter()
		if rw == nil || rw.FilePath() != logPath {
			t.Errorf("RotatingWriter() = %v, want a writer for %s", rw, logPath)
		}
	})

	t.Run("writes to stderr when path is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.closer != nil {
			t.Error("expected no closer when writing to stderr")
		}
		if logger.RotatingWriter() != nil {
			t.Error("expected no rotating writer when writing to stderr")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() returned error: %v", err)
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn, FormatJSON)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines (WARN and ERROR only), got %d: %s", len(entries), buf.String())
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestEnabled(t *testing.T) {
	logger := NewWriterLogger(&bytes.Buffer{}, LevelInfo, FormatJSON)
	if logger.Enabled(LevelDebug) {
		t.Error("DEBUG should be disabled at INFO")
	}
	if !logger.Enabled(LevelError) {
		t.Error("ERROR should be enabled at INFO")
	}
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo, FormatJSON)

	logger.WithComponent("reload").WithCycle("cycle-1").WithUnit("greeter").Info("unit reloaded", "extra", "data")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	want := map[string]string{
		"logger":    Name,
		"component": "reload",
		"cycle_id":  "cycle-1",
		"unit":      "greeter",
		"extra":     "data",
		"msg":       "unit reloaded",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Errorf("expected %s=%s, got %v", key, value, entry[key])
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo, FormatJSON)

	if logger.With() != logger {
		t.Error("With() without args should return the same logger")
	}

	logger.With("foo", "bar", 7, "skipped", "count", 42).Info("test message")

	entry := decodeLines(t, buf.Bytes())[0]
	if entry["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %v", entry["foo"])
	}
	// JSON numbers are float64
	if entry["count"] != float64(42) {
		t.Errorf("expected count=42, got %v", entry["count"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo, FormatText)

	logger.Info("started")

	out := buf.String()
	if !strings.Contains(out, "msg=started") || !strings.Contains(out, "logger=livepatch") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	if err := logger.Close(); err != nil {
		t.Errorf("NopLogger.Close() returned error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"invalid", LevelInfo},
		{"", LevelInfo},
	}

	for _, tc := range tests {
		if result := ParseLevel(tc.input); result != tc.expected {
			t.Errorf("ParseLevel(%q) = %q, expected %q", tc.input, result, tc.expected)
		}
	}
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	expected := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if strings.Join(levels, ",") != strings.Join(expected, ",") {
		t.Errorf("ValidLevels() = %v, expected %v", levels, expected)
	}
}

func TestClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "livepatch.log")

	logger, err := NewLogger(logPath, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	child := logger.WithUnit("greeter")
	child.Info("test message")

	if err := logger.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
	// Closing a child after the parent must not fail.
	if err := child.Close(); err != nil {
		t.Errorf("child Close() returned error: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(content) == 0 {
		t.Error("log file is empty, expected content")
	}
}

func TestConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "livepatch.log")

	logger, err := NewLogger(logPath, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				logger.WithUnit("u").Info("concurrent write", "goroutine", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()
	_ = logger.Close()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if got := len(decodeLines(t, content)); got != 1000 {
		t.Errorf("expected 1000 log lines, got %d", got)
	}
}
