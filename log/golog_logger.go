package log

import (
	"io"

	"github.com/kataras/golog"
)

// GologLogger implements Logger interface using kataras/golog
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger creates a new logger using an existing golog.Logger
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{
		logger: logger,
		level:  LogLevelInfo,
	}
}

// NewGologLoggerTo creates a golog-backed logger writing to out at level.
// It is what the ragflow command installs.
func NewGologLoggerTo(out io.Writer, level LogLevel) *GologLogger {
	glogger := golog.New()
	glogger.SetPrefix("[ragflow] ")
	glogger.SetOutput(out)
	l := NewGologLogger(glogger)
	l.SetLevel(level)
	return l
}

// Debug logs debug messages
func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LogLevelDebug {
		l.logger.Debugf(format, v...)
	}
}

// Info logs informational messages
func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LogLevelInfo {
		l.logger.Infof(format, v...)
	}
}

// Warn logs warning messages
func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LogLevelWarn {
		l.logger.Warnf(format, v...)
	}
}

// Error logs error messages
func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LogLevelError {
		l.logger.Errorf(format, v...)
	}
}

// SetLevel sets the log level on both the wrapper and the golog instance.
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(gologLevel(level))
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}

func gologLevel(level LogLevel) string {
	switch level {
	case LogLevelDebug:
		return "debug"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "disable"
	default:
		return "info"
	}
}
