package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{" error ", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pollbot.log")

	logger, err := New("info", path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("login_attempt", zap.String("platform", "reddit"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"login_attempt"`) {
		t.Errorf("log file missing event: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %s", out)
	}
}

func TestNew_RejectsBadLevel(t *testing.T) {
	if _, err := New("loud", ""); err == nil {
		t.Fatal("New() error = nil, want invalid level")
	}
}

func TestNewTo_OnlyGivenPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.log")

	logger, err := NewTo("debug", path)
	if err != nil {
		t.Fatalf("NewTo() error = %v", err)
	}
	logger.Debug("tool_called", zap.String("tool", "list_opt_outs"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"tool":"list_opt_outs"`) {
		t.Errorf("log file missing event: %s", data)
	}
}

func TestNewTo_InvalidLevel(t *testing.T) {
	if _, err := NewTo("loud", "stderr"); err == nil {
		t.Error("NewTo() expected error for invalid level")
	}
}
