// Package logging provides the process-wide logger.
// CLI commands call Disable() before printing user-facing output so log
// lines never interleave with the conversation.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Disable turns off all logging
func Disable() {
	logger.SetOutput(io.Discard)
}

// Enable turns logging back on
func Enable() {
	logger.SetOutput(os.Stderr)
}

// SetVerbose enables debug-level output
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Info logs an info message
func Info(v ...any) {
	logger.Info(v...)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	logger.Infof(format, v...)
}

// Error logs an error message
func Error(v ...any) {
	logger.Error(v...)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	logger.Errorf(format, v...)
}

// Warn logs a warning message
func Warn(v ...any) {
	logger.Warn(v...)
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	logger.Warnf(format, v...)
}

// Debug logs a debug message
func Debug(v ...any) {
	logger.Debug(v...)
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	logger.Debugf(format, v...)
}

// WithField returns an entry with one structured field attached.
func WithField(key string, value any) *logrus.Entry {
	return logger.WithField(key, value)
}
