// Package fabriclog wraps zap behind the teacher's component/Field-based
// logging API, so every package in the module logs through the same small
// surface regardless of which structured logging library backs it.
package fabriclog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured, per-component logger backed by zap.
type Logger struct {
	z         *zap.Logger
	component string
}

// New creates a logger tagged with component, writing JSON lines to stderr
// at info level (the host CLI raises this to debug with --verbose).
func New(component string) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), zapcore.InfoLevel)
	return &Logger{z: zap.New(core), component: component}
}

// NewAtLevel creates a logger at an explicit minimum level, used by the
// host CLI's --verbose flag to drop to debug.
func NewAtLevel(component string, level zapcore.Level) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), level)
	return &Logger{z: zap.New(core), component: component}
}

// With returns a derived logger that always includes the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(toZap(fields)...), component: l.component}
}

func (l *Logger) base() []zap.Field {
	return []zap.Field{zap.String("component", l.component)}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.z.Debug(msg, append(l.base(), toZap(fields)...)...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.z.Info(msg, append(l.base(), toZap(fields)...)...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.z.Warn(msg, append(l.base(), toZap(fields)...)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.z.Error(msg, append(l.base(), toZap(fields)...)...)
}

// Fatal logs at error level then exits the process non-zero. Per spec.md
// §7, format/mapping failures are fatal for the host; this is the only
// place the module calls os.Exit.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.z.Error(msg, append(l.base(), toZap(fields)...)...)
	_ = l.z.Sync()
	os.Exit(1)
}

func (l *Logger) Sync() error { return l.z.Sync() }
