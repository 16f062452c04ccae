package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "console")
			if Log == nil {
				t.Fatal("Log not initialized")
			}
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("level %s: got %v, want %v", tt.level, got, tt.expect)
			}
		})
	}
}

func TestSetupJSONFormat(t *testing.T) {
	Setup("info", "json")
	if Log == nil {
		t.Fatal("Log not initialized")
	}
	Log.Info("json format works")
}

func TestFieldPairs(t *testing.T) {
	Setup("debug", "console")

	// None of these may panic.
	Log.Debug("no fields")
	Log.Info("typed fields", "tokens", 42, "loss", 2.5, "final", true)
	Log.Warn("odd arg count", "key", "value", "orphan")
	Log.Error("non-string key", 123, "value")
}
