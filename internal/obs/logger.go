package obs

import (
	"github.com/sirupsen/logrus"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal logging interface for observability.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// LogrusLogger bridges to a logrus logger.
type LogrusLogger struct {
	L   *logrus.Logger
	Min Level
}

// NewLogrus wraps an existing logrus logger; a nil argument gets the
// logrus standard logger.
func NewLogrus(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{L: l}
}

// Default returns a logger writing text-formatted lines at Info and
// above.
func Default() LogrusLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return LogrusLogger{L: l, Min: Info}
}

func (s LogrusLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil || level < s.Min {
		return
	}
	switch level {
	case Debug:
		s.L.Debugf(format, args...)
	case Info:
		s.L.Infof(format, args...)
	case Warn:
		s.L.Warnf(format, args...)
	default:
		s.L.Errorf(format, args...)
	}
}
