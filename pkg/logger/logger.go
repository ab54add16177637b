// Package logger provides the process-wide structured logger.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger = zap.NewNop()
	logFile      *os.File
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
// verbose enables debug level.
func Init(logPath string, verbose bool) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		_ = globalLogger.Sync()
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //#nosec G304 -- user-provided log path
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), level)

	logFile = f
	globalLogger = zap.New(core)

	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	_ = globalLogger.Sync()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = zap.NewNop()
}

// L returns the global logger. It is a no-op logger until Init succeeds.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Named returns a child of the global logger scoped to a component.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	L().Sugar().Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	L().Sugar().Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	L().Sugar().Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	L().Sugar().Warnf(format, v...)
}
