package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Logger defines a standard interface for logging.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	// Named returns a sub-logger whose name is appended to the current one.
	Named(name string) Logger
}

// HclogLogger is a wrapper around hashicorp's structured logger.
type HclogLogger struct {
	hclog.Logger
}

// NewLogger creates a new logger instance based on the specified level.
func NewLogger(level string) Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo creates a logger writing JSON lines to w.
func NewLoggerTo(w io.Writer, level string) Logger {
	return &HclogLogger{hclog.New(&hclog.LoggerOptions{
		Name:       "fragloadd",
		Level:      ParseLevel(level),
		Output:     w,
		JSONFormat: true,
	})}
}

// ParseLevel maps a level name to an hclog level, defaulting to info.
func ParseLevel(level string) hclog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return hclog.Debug
	case "info":
		return hclog.Info
	case "warn":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}

// Debugf logs a message at the debug level.
func (l *HclogLogger) Debugf(format string, v ...interface{}) {
	l.Debug(fmt.Sprintf(format, v...))
}

// Infof logs a message at the info level.
func (l *HclogLogger) Infof(format string, v ...interface{}) {
	l.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a message at the warn level.
func (l *HclogLogger) Warnf(format string, v ...interface{}) {
	l.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs a message at the error level.
func (l *HclogLogger) Errorf(format string, v ...interface{}) {
	l.Error(fmt.Sprintf(format, v...))
}

// Named returns a named sub-logger.
func (l *HclogLogger) Named(name string) Logger {
	return &HclogLogger{l.Logger.Named(name)}
}

// SetLevel changes the level of the logger and its sub-loggers.
func (l *HclogLogger) SetLevel(level string) {
	l.Logger.SetLevel(ParseLevel(level))
}

// Nop returns a logger discarding every message.
func Nop() Logger {
	return &HclogLogger{hclog.NewNullLogger()}
}
