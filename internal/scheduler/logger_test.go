package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLoggerScopedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("open logger: %v", err)
	}

	l.Log("shared %d", 1)
	scoped := l.Scope("aaaabbbb-cccc-dddd-eeee-ffff00001111")
	scoped("dispatching %s", "task-a")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "=== scheduler trace") {
		t.Error("missing header line")
	}
	if !strings.Contains(out, "shared 1") {
		t.Error("missing untagged line")
	}
	if !strings.Contains(out, "[aaaabbbb] dispatching task-a") {
		t.Errorf("missing plan-tagged line, got:\n%s", out)
	}
}

func TestDebugLoggerCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "trace.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("open logger: %v", err)
	}
	l.Log("hello")
	l.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("trace file not created: %v", err)
	}
}

func TestDiscardingLoggerIsSafe(t *testing.T) {
	l, err := NewDebugLogger("")
	if err != nil {
		t.Fatalf("open logger: %v", err)
	}
	l.Log("dropped")
	l.Scope("plan")("dropped too")
	if err := l.Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	var nilLogger *DebugLogger
	nilLogger.Log("still safe")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
}
