package utils

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnv overrides the level chosen by NewLogger, e.g. SHIORI_LOG_LEVEL=warn.
const LogLevelEnv = "SHIORI_LOG_LEVEL"

// NewLogger returns a zap logger that writes to stderr, leaving stdout for command output.
// When debug is true it uses the development config (console, debug level); otherwise the
// production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if s := os.Getenv(LogLevelEnv); s != "" {
		lvl, err := zapcore.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", LogLevelEnv, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}
