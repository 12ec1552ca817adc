package util

import (
	"path/filepath"
	"testing"
)

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	if got := DefaultDataDir(); got != filepath.Join("/tmp/state", AppName) {
		t.Fatalf("expected XDG state dir, got %q", got)
	}

	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", "/home/alice")
	if got := DefaultDataDir(); got != filepath.Join("/home/alice", ".local", "state", AppName) {
		t.Fatalf("expected home state dir, got %q", got)
	}
}

func TestDataDirLayout(t *testing.T) {
	if got := LogFilePath("/d"); got != filepath.Join("/d", "logs", "guilddash.log") {
		t.Fatalf("unexpected log path %q", got)
	}
	if got := AuditDBPath("/d"); got != filepath.Join("/d", "audit", "changes.db") {
		t.Fatalf("unexpected audit path %q", got)
	}
}
