package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode logs at debug level", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debug level should be enabled")
		}
		_ = logger.Sync()
	})

	t.Run("production mode logs at info level", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger.Core().Enabled(zapcore.DebugLevel) || !logger.Core().Enabled(zapcore.InfoLevel) {
			t.Error("want info level")
		}
		_ = logger.Sync()
	})

	t.Run("environment overrides the level", func(t *testing.T) {
		t.Setenv(LogLevelEnv, "warn")
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatal(err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Error("info should be disabled at warn level")
		}
	})

	t.Run("bad level is an error", func(t *testing.T) {
		t.Setenv(LogLevelEnv, "loud")
		if _, err := NewLogger(false); err == nil {
			t.Error("want error")
		}
	})
}
