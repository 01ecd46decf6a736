// Package audit appends a JSONL trail of events (incoming handshakes,
// failed offers, liveness transitions, image build/push/pull, container
// runs, dataset publish/download, executor subtask runs, and task outcomes)
// to disk. Exchange and start calls are not recorded. It does not guard
// anything and never blocks a caller on a missing logger — a node with no
// audit trail still functions, it just leaves no record.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// Entry is one protocol-level event: a peer call made or received, a
// background job transition, or a liveness flip.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Event     string                 `json:"event"`
	PeerUID   string                 `json:"peer_uid,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type Logger struct {
	file *os.File
	mu   sync.Mutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init opens (or creates) the JSONL audit file for the calling service.
// Safe to call once per process; subsequent calls are no-ops.
func Init(logPath string) error {
	var err error
	once.Do(func() {
		defaultLogger, err = New(logPath)
	})
	return err
}

func New(logPath string) (*Logger, error) {
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{file: file}, nil
}

func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Timestamp = time.Now()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *Logger) Close() error {
	return l.file.Close()
}

// Log appends to the process-wide default logger. A no-op, not an error,
// when Init was never called — callers on the hot path should not have to
// branch on whether auditing is configured.
func Log(e Entry) {
	if defaultLogger == nil {
		return
	}
	defaultLogger.Log(e)
}

// Event is a convenience wrapper for the common case of a peer call result.
func Event(event, peerUID string, success bool, duration time.Duration, err error) {
	entry := Entry{
		Level:    LevelInfo,
		Event:    event,
		PeerUID:  peerUID,
		Success:  success,
		Duration: duration.Milliseconds(),
	}
	if !success {
		entry.Level = LevelWarning
	}
	if err != nil {
		entry.Level = LevelError
		entry.Error = err.Error()
	}
	Log(entry)
}

func Close() error {
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.Close()
}
