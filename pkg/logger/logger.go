package logger

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	sugar *zap.SugaredLogger
)

// Init configures the process-wide logger. level is one of
// debug|info|warn|error (case-insensitive); anything else means info.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	sugar = base.Sugar()
	mu.Unlock()
	return nil
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func logger() *zap.SugaredLogger {
	mu.RLock()
	s := sugar
	mu.RUnlock()
	if s != nil {
		return s
	}

	// Lazily bootstrap a default logger so packages can log before Init.
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		base, err := zap.NewProduction(zap.AddCallerSkip(1))
		if err != nil {
			base = zap.NewNop()
		}
		sugar = base.Sugar()
	}
	return sugar
}

func kvs(component string, fields map[string]any) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k, fields[k])
	}
	return out
}

func DebugC(component, msg string) {
	logger().Debugw(msg, "component", component)
}

func DebugCF(component, msg string, fields map[string]any) {
	logger().Debugw(msg, kvs(component, fields)...)
}

func InfoC(component, msg string) {
	logger().Infow(msg, "component", component)
}

func InfoCF(component, msg string, fields map[string]any) {
	logger().Infow(msg, kvs(component, fields)...)
}

func WarnC(component, msg string) {
	logger().Warnw(msg, "component", component)
}

func WarnCF(component, msg string, fields map[string]any) {
	logger().Warnw(msg, kvs(component, fields)...)
}

func ErrorC(component, msg string) {
	logger().Errorw(msg, "component", component)
}

func ErrorCF(component, msg string, fields map[string]any) {
	logger().Errorw(msg, kvs(component, fields)...)
}
