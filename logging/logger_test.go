package logging

import (
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(true, logFile)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if logger.LogFilePath() != logFile {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), logFile)
	}
	if logger.Zap() == nil {
		t.Error("Zap() returned nil")
	}
}

func TestLogger_RedactsCredentialFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewTestLogger(core)

	logger.Info("provider configured",
		zap.String("key", "msy_abcdefghij1234567890xyz"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	value := entries[0].ContextMap()["key"].(string)
	if strings.Contains(value, "msy_abcdefghij") {
		t.Errorf("credential leaked into log output: %q", value)
	}
}

func TestLogger_Named(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewTestLogger(core).Named("stylize")

	logger.Info("chain built")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].LoggerName != "stylize" {
		t.Errorf("LoggerName = %q, want %q", entries[0].LoggerName, "stylize")
	}
}

func TestLogger_WithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewTestLogger(core).With(zap.String("correlation_id", "run-1"))

	logger.Info("first")
	logger.Info("second")

	for _, entry := range logs.All() {
		if entry.ContextMap()["correlation_id"] != "run-1" {
			t.Errorf("entry %q missing correlation_id", entry.Message)
		}
	}
}

func TestLogger_SyncNilSafe(t *testing.T) {
	var logger *Logger
	if err := logger.Sync(); err != nil {
		t.Errorf("nil logger Sync() error = %v", err)
	}
}
