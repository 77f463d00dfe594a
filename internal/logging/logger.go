// Package logging builds the slog loggers used by both processes.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileWriter returns a rotating log file writer.
func FileWriter(filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}
}

// New creates a JSON logger writing to w at the given level.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// NewWithFile logs to every writer in console plus a rotating file. An
// empty filename disables the file. The returned closer flushes the file.
func NewWithFile(filename, level string, console ...io.Writer) (*slog.Logger, io.Closer) {
	writers := append([]io.Writer(nil), console...)
	var closer io.Closer = nopCloser{}
	if filename != "" {
		fw := FileWriter(filename)
		writers = append(writers, fw)
		closer = fw
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	return New(io.MultiWriter(writers...), level), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
