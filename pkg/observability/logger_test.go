package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewLogger_ValidLevels tests logger creation with all valid log levels
func TestNewLogger_ValidLevels(t *testing.T) {
	tests := []struct {
		name          string
		level         string
		expectedLevel zapcore.Level
	}{
		{
			name:          "Debug level",
			level:         "debug",
			expectedLevel: zapcore.DebugLevel,
		},
		{
			name:          "Info level",
			level:         "info",
			expectedLevel: zapcore.InfoLevel,
		},
		{
			name:          "Warn level lowercase",
			level:         "warn",
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "Warning level",
			level:         "warning",
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "Error level",
			level:         "error",
			expectedLevel: zapcore.ErrorLevel,
		},
		{
			name:          "Fatal level",
			level:         "fatal",
			expectedLevel: zapcore.FatalLevel,
		},
		{
			name:          "Mixed case level",
			level:         "DEBUG",
			expectedLevel: zapcore.DebugLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level)
			if err != nil {
				t.Fatalf("NewLogger(%q) returned error: %v", tt.level, err)
			}
			defer logger.Sync()

			if !logger.Core().Enabled(tt.expectedLevel) {
				t.Errorf("logger does not enable expected level %v", tt.expectedLevel)
			}
			if tt.expectedLevel > zapcore.DebugLevel && logger.Core().Enabled(tt.expectedLevel-1) {
				t.Errorf("logger enables level below %v", tt.expectedLevel)
			}
		})
	}
}

// TestNewLogger_InvalidLevel tests that unknown levels are rejected
func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger("verbose"); err == nil {
		t.Error("expected error for unknown level, got nil")
	}
}

// TestNewLogger_EmptyLevel tests that an empty level defaults to info
func TestNewLogger_EmptyLevel(t *testing.T) {
	logger, err := NewLogger("")
	if err != nil {
		t.Fatalf("NewLogger(\"\") returned error: %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info level to be enabled by default")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be disabled by default")
	}
}
