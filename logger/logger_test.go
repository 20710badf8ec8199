package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"Warn", WARN, false},
		{"error", ERROR, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(LoggerConfig{Level: WARN, Console: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	l.Info("sensor %s polled", "s1")
	l.Warn("sensor %s offline", "s2")

	out := buf.String()
	if strings.Contains(out, "s1") {
		t.Errorf("info line should be filtered at WARN level, got %q", out)
	}
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "sensor s2 offline") {
		t.Errorf("expected warn line, got %q", out)
	}
	if !strings.Contains(out, "logger_test.go:") {
		t.Errorf("expected caller file in %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("custom writer should not receive color codes, got %q", out)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "poller.log")
	l, err := New(LoggerConfig{Level: DEBUG, FilePath: path, MaxSize: 10, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	l.Debug("hello %d", 42)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[DEBUG]") || !strings.Contains(string(data), "hello 42") {
		t.Errorf("unexpected log file content %q", data)
	}
}
