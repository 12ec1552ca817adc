package util

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName names the per-user directories the dashboard writes to.
const AppName = "guilddash"

// DefaultDataDir returns the per-user state directory: $XDG_STATE_HOME/guilddash when
// set, otherwise ~/.local/state/guilddash. It falls back to ./data when no home
// directory can be resolved.
func DefaultDataDir() string {
	if s := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); s != "" {
		return filepath.Join(s, AppName)
	}
	if h := homeDir(); h != "" {
		return filepath.Join(h, ".local", "state", AppName)
	}
	return filepath.Join(".", "data")
}

// LogFilePath returns the rotating log file inside dataDir.
func LogFilePath(dataDir string) string {
	return filepath.Join(dataDir, "logs", AppName+".log")
}

// AuditDBPath returns the SQLite audit database inside dataDir.
func AuditDBPath(dataDir string) string {
	return filepath.Join(dataDir, "audit", "changes.db")
}

func homeDir() string {
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return ""
}
