package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Category groups log lines by the part of the dashboard that produced them.
type Category string

const (
	Application Category = "application"
	HTTP        Category = "http"
	Backend     Category = "backend"
	Database    Category = "database"
	Error       Category = "error"
)

// Options configures SetupLogger.
type Options struct {
	// FilePath is the rotating log file. Empty disables file output.
	FilePath string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// MaxSizeMB, MaxBackups and MaxAgeDays tune rotation. Zero values use defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stdout overrides the console writer (tests).
	Stdout io.Writer
}

// Logger owns the slog handlers shared by every category.
type Logger struct {
	base *slog.Logger
	file *lumberjack.Logger

	mu   sync.Mutex
	cats map[Category]*slog.Logger
}

// GlobalLogger is the process logger. Category accessors fall back to a stderr
// logger until SetupLogger has run.
var (
	GlobalLogger *Logger
	globalMu     sync.RWMutex
)

// SetupLogger builds the process logger and installs it as GlobalLogger and as the
// slog default. Calling it again replaces the previous logger after closing it.
func SetupLogger(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	console := opts.Stdout
	if console == nil {
		console = os.Stdout
	}

	var file *lumberjack.Logger
	writer := console
	if p := strings.TrimSpace(opts.FilePath); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   p,
			MaxSize:    orDefault(opts.MaxSizeMB, 20),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		writer = io.MultiWriter(console, file)
	}

	l := &Logger{
		base: slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})),
		file: file,
		cats: make(map[Category]*slog.Logger),
	}

	globalMu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	globalMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	slog.SetDefault(l.base)
	return l, nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// For returns the logger for a category.
func (l *Logger) For(c Category) *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lg, ok := l.cats[c]; ok {
		return lg
	}
	lg := l.base.With("category", string(c))
	l.cats[c] = lg
	return lg
}

// Close releases the log file. It is safe on a nil Logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func category(c Category) *slog.Logger {
	globalMu.RLock()
	l := GlobalLogger
	globalMu.RUnlock()
	if l == nil {
		return slog.Default().With("category", string(c))
	}
	return l.For(c)
}

// ApplicationLogger logs lifecycle events.
func ApplicationLogger() *slog.Logger { return category(Application) }

// HTTPLogger logs dashboard requests.
func HTTPLogger() *slog.Logger { return category(HTTP) }

// BackendLogger logs calls to the configuration backend.
func BackendLogger() *slog.Logger { return category(Backend) }

// DatabaseLogger logs audit store activity.
func DatabaseLogger() *slog.Logger { return category(Database) }

// ErrorLoggerRaw logs failures that have no better category.
func ErrorLoggerRaw() *slog.Logger { return category(Error) }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
