// Package log configures the process-wide slog logger.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// Setup installs a text handler on stderr whose level can be changed later with SetLevel.
func Setup(logLevel string) {
	parsed, err := ParseLevel(logLevel)
	if err != nil {
		parsed = slog.LevelInfo
	}

	level.Set(parsed)

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func ParseLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", logLevel)
	}
}

// SetLevel changes the level of the logger installed by Setup at runtime.
func SetLevel(logLevel string) error {
	parsed, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}

	level.Set(parsed)

	return nil
}

// Level returns the current level name.
func Level() string {
	return strings.ToLower(level.Level().String())
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
