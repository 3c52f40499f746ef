// Package logging provides the application logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger with the key-value style used across
// the service.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger creates a production logger writing JSON to stdout.
func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap only fails to build on bad sink paths; stdout is safe.
		l = zap.NewNop()
	}
	return &Logger{s: l.Sugar()}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

// Debug logs a debug message with key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }

// Info logs an informational message with key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.s.Infow(msg, args...) }

// Warn logs a warning with key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.s.Warnw(msg, args...) }

// Error logs an error with key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// Sync flushes buffered log entries.
func (l *Logger) Sync() error { return l.s.Sync() }
