package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config for logger
type Config struct {
	Level   string
	Output  io.Writer
	Service string
	Pretty  bool
}

var (
	mu   sync.RWMutex
	root = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Init replaces the root logger. Safe to call more than once.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Service == "" {
		cfg.Service = "triage"
	}

	l := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()

	mu.Lock()
	root = l
	mu.Unlock()
}

// L returns the root logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}

// Nop is a logger that discards everything, used by tests and optional collaborators.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func Debug(msg string, args ...any) { logf(zerolog.DebugLevel, msg, args...) }
func Info(msg string, args ...any)  { logf(zerolog.InfoLevel, msg, args...) }

// Fatal logs and exits with status 1.
func Fatal(msg string, args ...any) {
	logf(zerolog.FatalLevel, msg, args...)
	os.Exit(1)
}

func logf(level zerolog.Level, msg string, args ...any) {
	l := L()
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.WithLevel(level).Msg(msg)
}
