// Package logging provides structured logging for Curio.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps a sugared zap logger. Context is passed as alternating
// key/value pairs.
type Logger struct {
	sugar    *zap.SugaredLogger
	minLevel LogLevel
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// New builds a JSON logger writing to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(out),
		zap.NewAtomicLevelAt(minLevel.zapLevel()),
	)
	return &Logger{sugar: zap.New(core).Sugar(), minLevel: minLevel}
}

// NewDevelopment builds a human-readable console logger on stderr.
func NewDevelopment() (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar(), minLevel: LevelDebug}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), minLevel: LevelError}
}

// Init initializes the global logger.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		global = New(out, minLevel)
	})
}

// SetGlobal replaces the global logger, e.g. with a development logger.
func SetGlobal(l *Logger) {
	once.Do(func() {})
	global = l
}

// Get returns the global logger instance.
func Get() *Logger {
	if global == nil {
		Init(os.Stdout, LevelInfo)
	}
	return global
}

// With returns a child logger that always carries the given pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...), minLevel: l.minLevel}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, keysAndValues ...interface{}) {
	l.sugar.Debugw(message, keysAndValues...)
}

// Info logs an info message.
func (l *Logger) Info(message string, keysAndValues ...interface{}) {
	l.sugar.Infow(message, keysAndValues...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, keysAndValues ...interface{}) {
	l.sugar.Warnw(message, keysAndValues...)
}

// Error logs an error message with its cause.
func (l *Logger) Error(message string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err.Error())
	}
	l.sugar.Errorw(message, keysAndValues...)
}

// Convenience functions using global logger

func Debug(message string, keysAndValues ...interface{}) {
	Get().Debug(message, keysAndValues...)
}

func Info(message string, keysAndValues ...interface{}) {
	Get().Info(message, keysAndValues...)
}

func Warn(message string, keysAndValues ...interface{}) {
	Get().Warn(message, keysAndValues...)
}

func Error(message string, err error, keysAndValues ...interface{}) {
	Get().Error(message, err, keysAndValues...)
}
