package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// Setup builds the process logger on stdout and makes it the slog default.
func Setup(env, level string) *slog.Logger {
	logger := New(os.Stdout, env, level)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w. Local and dev environments log text at
// debug level, prod logs JSON at info. A non-empty level overrides the default.
func New(w io.Writer, env, level string) *slog.Logger {
	var handler slog.Handler

	switch env {
	case envProd:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level, slog.LevelInfo)})
	case envLocal, envDev:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level, slog.LevelDebug)})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level, slog.LevelInfo)})
	}

	return slog.New(handler).With(slog.String("env", env))
}

func parseLevel(raw string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}
