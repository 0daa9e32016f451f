package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{"dev defaults to debug", "dev", "", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"prod defaults to info", "prod", "", zapcore.InfoLevel, zapcore.DebugLevel},
		{"explicit warn", "dev", "warn", zapcore.WarnLevel, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.env, tt.level)
			if err != nil {
				t.Fatalf("new logger: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Fatalf("expected %s to be enabled", tt.enabled)
			}
			if logger.Core().Enabled(tt.off) {
				t.Fatalf("expected %s to be disabled", tt.off)
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("dev", "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a logger")
	}
}
