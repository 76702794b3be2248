package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across the player. Key-value pairs
// follow the message, zap sugar style.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Sync() error
}

// zapLogger wraps a zap SugaredLogger, gated by the category registry.
type zapLogger struct {
	category string
	log      *zap.SugaredLogger
}

// New creates a logger for a category at info level.
func New(category string) Logger {
	return NewWithLevel(category, "info")
}

// NewWithLevel creates a logger for a category with a specific level.
func NewWithLevel(category, level string) Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	base, err := cfg.Build()
	if err != nil {
		return &noOpLogger{}
	}

	return &zapLogger{
		category: category,
		log:      base.Named(category).Sugar(),
	}
}

// NoOp returns a logger that discards everything.
func NoOp() Logger {
	return &noOpLogger{}
}

// NoLog is a no-op logger instance.
var NoLog = NoOp()

func (l *zapLogger) Debug(msg string, kv ...any) {
	if !Enabled(l.category) {
		return
	}
	l.log.Debugw(msg, kv...)
}

func (l *zapLogger) Info(msg string, kv ...any) {
	if !Enabled(l.category) {
		return
	}
	l.log.Infow(msg, kv...)
}

func (l *zapLogger) Warn(msg string, kv ...any) {
	if !Enabled(l.category) {
		return
	}
	l.log.Warnw(msg, kv...)
}

func (l *zapLogger) Error(msg string, kv ...any) {
	if !Enabled(l.category) {
		return
	}
	l.log.Errorw(msg, kv...)
}

func (l *zapLogger) Sync() error {
	return l.log.Sync()
}

// noOpLogger discards all messages.
type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, kv ...any) {}
func (n *noOpLogger) Info(msg string, kv ...any) {}
func (n *noOpLogger) Warn(msg string, kv ...any) {}
func (n *noOpLogger) Error(msg string, kv ...any) {}
func (n *noOpLogger) Sync() error { return nil }

// Category registry. Process-wide with explicit init; a pure side channel,
// never consulted unless a logger fires. With no allow set installed every
// category is enabled.
var (
	catMu   sync.RWMutex
	allowed map[string]struct{}
	denied  map[string]struct{}
)

// SetAllowedCategories installs an allow set. Only listed categories log.
// Passing no names clears the set and re-enables everything.
func SetAllowedCategories(names ...string) {
	catMu.Lock()
	defer catMu.Unlock()
	if len(names) == 0 {
		allowed = nil
		return
	}
	allowed = make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
}

// DenyCategories silences the listed categories regardless of the allow set.
func DenyCategories(names ...string) {
	catMu.Lock()
	defer catMu.Unlock()
	if denied == nil {
		denied = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		denied[n] = struct{}{}
	}
}

// ResetCategories clears both sets.
func ResetCategories() {
	catMu.Lock()
	defer catMu.Unlock()
	allowed = nil
	denied = nil
}

// Enabled reports whether a category should log.
func Enabled(category string) bool {
	catMu.RLock()
	defer catMu.RUnlock()
	if _, deny := denied[category]; deny {
		return false
	}
	if allowed == nil {
		return true
	}
	_, ok := allowed[category]
	return ok
}
