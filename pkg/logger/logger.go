// Package logger provides the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	std     = newDiscard()
	logFile *os.File
	mu      sync.Mutex
)

func newDiscard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// New builds a console logger for CLI output.
func New(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// Init directs the global logger to the specified log file.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	std.SetOutput(f)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	return nil
}

// SetOutput directs the global logger to w, e.g. a CLI logger's writer.
func SetOutput(w io.Writer, level logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
	std.SetLevel(level)
}

// Close closes the log file and silences the global logger.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	std.SetOutput(io.Discard)
	std.SetLevel(logrus.DebugLevel)
}

// L returns the global logger.
func L() *logrus.Logger {
	return std
}

// Component returns the global logger tagged with a component name.
func Component(name string) logrus.FieldLogger {
	return std.WithField("component", name)
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	std.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	std.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	std.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	std.Warnf(format, v...)
}

// GetWriter returns the log file, or io.Discard when none is open.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
