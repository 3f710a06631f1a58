// Package utils provides the leveled logging the engine components share.
// Loggers take slog-style alternating key/value pairs; the level is fixed at
// construction, since evaluation runs configure verbosity once up front.
package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel selects how much of a run is reported. Off silences everything,
// which tests and embedded use rely on.
type LogLevel int

const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var levelNames = [...]string{"OFF", "ERROR", "WARN", "INFO", "DEBUG"}

func (l LogLevel) String() string {
	if l < LogLevelOff || l > LogLevelDebug {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// UnmarshalText parses a level name, so LogLevel fields load straight from
// environment variables during config parsing.
func (l *LogLevel) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for i, candidate := range levelNames {
		if name == candidate {
			*l = LogLevel(i)
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s", string(text))
}

// Logger is what the executor, engine and llm adapter log through.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DefaultLogger writes through log/slog. Filtering happens in the slog
// handler; an Off logger writes to io.Discard so call sites never branch on
// verbosity.
type DefaultLogger struct {
	logger *slog.Logger
}

func NewLogger(level LogLevel) *DefaultLogger {
	if level == LogLevelOff {
		return &DefaultLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(level),
	})
	return &DefaultLogger{logger: slog.New(handler)}
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (l *DefaultLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *DefaultLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *DefaultLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *DefaultLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}
