package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger writes timestamped trace lines to a single file shared
// by every scheduler loop in the process. Entries are tagged with a
// plan scope so interleaved loops can be told apart. A zero-value
// logger discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger opens (or creates) the trace file at logPath,
// creating parent directories as needed. An empty path yields a
// discarding logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{file: f}
	l.write("", fmt.Sprintf("=== scheduler trace, pid %d, %s ===", os.Getpid(), time.Now().Format(time.RFC3339)))
	return l, nil
}

// NewDebugLoggerForRepo places the trace file under the repo's
// .planloom/logs directory, falling back to a discarding logger when
// the directory cannot be created.
func NewDebugLoggerForRepo(repoPath string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(repoPath, ".planloom", "logs", "scheduler-debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// NopLogger returns a discarding logger.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one untagged line. Safe on a nil or discarding logger.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.write("", fmt.Sprintf(format, args...))
}

// Scope returns a logging function whose lines carry the plan's short
// ID. Each loop gets its own scope over the shared file.
func (l *DebugLogger) Scope(planID string) func(format string, args ...interface{}) {
	tag := planID
	if len(tag) > 8 {
		tag = tag[:8]
	}
	return func(format string, args ...interface{}) {
		if l == nil || l.file == nil {
			return
		}
		l.write(tag, fmt.Sprintf(format, args...))
	}
}

func (l *DebugLogger) write(tag, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05.000")
	if tag == "" {
		fmt.Fprintf(l.file, "[%s] %s\n", ts, msg)
	} else {
		fmt.Fprintf(l.file, "[%s] [%s] %s\n", ts, tag, msg)
	}
	l.file.Sync()
}

// Close closes the trace file. Safe on a nil or discarding logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
