// Package logging builds the zap logger shared by tierlearn components.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFile returns the log file path under a state directory.
func LogFile(stateDir string) string {
	return filepath.Join(stateDir, "logs", "tierlearn.log")
}

// New creates a JSON logger writing to logPath.
// If logPath is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func New(logPath string, verbose bool) (*zap.Logger, error) {
	if logPath == "" {
		return zap.NewNop(), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// NewForState creates a logger in the state directory's logs folder.
// Falls back to a stderr logger at warn level if the file cannot be opened.
func NewForState(stateDir string, verbose bool) *zap.Logger {
	logger, err := New(LogFile(stateDir), verbose)
	if err == nil {
		return logger
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	fallback, buildErr := cfg.Build()
	if buildErr != nil {
		return zap.NewNop()
	}
	fallback.Warn("log file unavailable, logging to stderr", zap.Error(err))
	return fallback
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
