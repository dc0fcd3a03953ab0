package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents logging severity
type LogLevel int32

const (
	// LogLevelDebug for per-step engine traces
	LogLevelDebug LogLevel = iota
	// LogLevelInfo for run start and finish
	LogLevelInfo
	// LogLevelWarn for runs that stop early
	LogLevelWarn
	// LogLevelError for runs that cannot start
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

// Logger is the printf-style logging interface used across ragflow.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// ParseLevel converts a level name such as "debug" or "WARN" into a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off", "disable":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// DefaultLogger implements Logger on top of the standard log package.
// Its level can be changed while other goroutines log.
type DefaultLogger struct {
	logger *log.Logger
	level  atomic.Int32
}

// NewDefaultLogger creates a logger writing to stderr.
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return NewCustomLogger(os.Stderr, level)
}

// NewCustomLogger creates a logger with custom output
func NewCustomLogger(out io.Writer, level LogLevel) *DefaultLogger {
	l := &DefaultLogger{logger: log.New(out, "[ragflow] ", log.LstdFlags)}
	l.level.Store(int32(level))
	return l
}

// SetLevel changes the minimum level written.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// GetLevel returns the current log level
func (l *DefaultLogger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *DefaultLogger) logf(level LogLevel, format string, v ...any) {
	if l.GetLevel() > level {
		return
	}
	l.logger.Printf("["+level.String()+"] "+format, v...)
}

// Debug logs debug messages
func (l *DefaultLogger) Debug(format string, v ...any) { l.logf(LogLevelDebug, format, v...) }

// Info logs informational messages
func (l *DefaultLogger) Info(format string, v ...any) { l.logf(LogLevelInfo, format, v...) }

// Warn logs warning messages
func (l *DefaultLogger) Warn(format string, v ...any) { l.logf(LogLevelWarn, format, v...) }

// Error logs error messages
func (l *DefaultLogger) Error(format string, v ...any) { l.logf(LogLevelError, format, v...) }

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(string, ...any) {}
func (l *NoOpLogger) Info(string, ...any)  {}
func (l *NoOpLogger) Warn(string, ...any)  {}
func (l *NoOpLogger) Error(string, ...any) {}

type loggerHolder struct{ Logger }

var defaultLogger atomic.Pointer[loggerHolder]

func init() {
	SetDefaultLogger(NewDefaultLogger(LogLevelInfo))
}

// SetDefaultLogger sets the package-level logger used by graphs compiled
// without WithLogger.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	defaultLogger.Store(&loggerHolder{logger})
}

// GetDefaultLogger returns the current package-level logger
func GetDefaultLogger() Logger {
	return defaultLogger.Load().Logger
}

// SetLogLevel replaces the package-level logger with a stderr logger at level.
func SetLogLevel(level LogLevel) {
	SetDefaultLogger(NewDefaultLogger(level))
}

// Debug logs a debug message using the package-level logger
func Debug(format string, v ...any) { GetDefaultLogger().Debug(format, v...) }

// Info logs an informational message using the package-level logger
func Info(format string, v ...any) { GetDefaultLogger().Info(format, v...) }

// Warn logs a warning message using the package-level logger
func Warn(format string, v ...any) { GetDefaultLogger().Warn(format, v...) }

// Error logs an error message using the package-level logger
func Error(format string, v ...any) { GetDefaultLogger().Error(format, v...) }
