package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies that parseLogLevel correctly parses log level
// strings from environment variables, handling case-insensitivity and whitespace.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}

	logger.Info("test message")
	_ = logger.Sync() // best-effort; can fail on /dev/stderr in test env
}

// TestLoggerFromContext verifies the request-scoped logger round-trips through the
// context and that a missing logger falls back to a usable no-op.
func TestLoggerFromContext(t *testing.T) {
	if l := LoggerFromContext(context.Background()); l == nil {
		t.Fatal("LoggerFromContext(empty) = nil, want no-op logger")
	}

	core, logs := observer.New(zap.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	LoggerFromContext(ctx).Info("hello")
	if logs.Len() != 1 {
		t.Errorf("observed %d log entries, want 1", logs.Len())
	}
}

func TestCorrelationID(t *testing.T) {
	if id := CorrelationID(context.Background()); id != "" {
		t.Errorf("CorrelationID(empty) = %q, want empty", id)
	}
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if id := CorrelationID(ctx); id != "abc-123" {
		t.Errorf("CorrelationID() = %q, want abc-123", id)
	}
}
