package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu            sync.RWMutex
	defaultLogger *zap.Logger
)

// Initialize builds the process logger with the given level and format and
// installs it as zap's global logger. Format "json" gives the production
// encoder; anything else gives the console encoder.
func Initialize(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.ToLower(format) == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	return l, nil
}

// L returns the logger installed by Initialize, or a no-op logger before that.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return zap.NewNop()
	}
	return defaultLogger
}

// Named returns the default logger scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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
