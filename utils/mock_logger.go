package utils

import (
	"fmt"
	"strings"
	"sync"
)

// MemoryLogger records every message for later inspection. Safe for use from
// multiple goroutines, which matters when asserting on logs emitted from
// worker callbacks.
type MemoryLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
	level    LogLevel
}

// LogMessage is one recorded log call.
type LogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewMemoryLogger creates a recording logger at debug level.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		Messages: []LogMessage{},
		level:    LogLevelDebug,
	}
}

func (m *MemoryLogger) record(level, msg string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, LogMessage{Level: level, Message: msg, Args: args})
}

func (m *MemoryLogger) Debug(msg string, keysAndValues ...any) {
	if m.levelEnabled(LogLevelDebug) {
		m.record("DEBUG", msg, keysAndValues)
	}
}

func (m *MemoryLogger) Info(msg string, keysAndValues ...any) {
	if m.levelEnabled(LogLevelInfo) {
		m.record("INFO", msg, keysAndValues)
	}
}

func (m *MemoryLogger) Warn(msg string, keysAndValues ...any) {
	if m.levelEnabled(LogLevelWarn) {
		m.record("WARN", msg, keysAndValues)
	}
}

func (m *MemoryLogger) Error(msg string, keysAndValues ...any) {
	if m.levelEnabled(LogLevelError) {
		m.record("ERROR", msg, keysAndValues)
	}
}

func (m *MemoryLogger) SetLevel(level LogLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

func (m *MemoryLogger) levelEnabled(level LogLevel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level >= level
}

// GetMessages returns a copy of all recorded messages.
func (m *MemoryLogger) GetMessages() []LogMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogMessage{}, m.Messages...)
}

// HasMessage reports whether a message containing text was recorded.
func (m *MemoryLogger) HasMessage(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Messages {
		if strings.Contains(msg.Message, text) {
			return true
		}
	}
	return false
}

// String returns all messages, one per line.
func (m *MemoryLogger) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sb strings.Builder
	for _, msg := range m.Messages {
		fmt.Fprintf(&sb, "[%s] %s %v\n", msg.Level, msg.Message, msg.Args)
	}
	return sb.String()
}
