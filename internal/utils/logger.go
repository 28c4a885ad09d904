package utils

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	rootMu     sync.RWMutex
	rootLogger = zap.NewNop()
)

// LoggerConfig controls the process-wide root logger
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	ServiceName string
	PodName     string
}

// InitLogger builds the root logger. Component loggers created afterwards
// inherit its level, encoder and fields.
func InitLogger(cfg LoggerConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if strings.ToLower(cfg.Format) == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zapConfig.Level = level

	zapConfig.InitialFields = map[string]interface{}{
		"service": cfg.ServiceName,
		"pod":     cfg.PodName,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	SetRootLogger(logger)
	return logger, nil
}

// SetRootLogger replaces the root logger
func SetRootLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootMu.Lock()
	defer rootMu.Unlock()
	rootLogger = logger
}

// SyncLogger flushes buffered log entries
func SyncLogger() {
	rootMu.RLock()
	defer rootMu.RUnlock()
	_ = rootLogger.Sync()
}

// Logger provides structured logging with context
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger named after a component
func NewLogger(component string) *Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return &Logger{sugar: rootLogger.Named(component).Sugar()}
}

// With returns a child logger carrying the given key-value pairs
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keyvals...)}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.sugar.Warnw(msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}
