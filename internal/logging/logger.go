package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and an optional rotated log file. Records always
// go to stdout; when File is set they are also appended to it.
type Options struct {
	Level      string
	File       string
	MaxAgeDays int
}

// NewLogger builds a JSON logger that writes to stdout only.
func NewLogger(level string) *slog.Logger {
	l, _ := New(Options{Level: level})
	return l
}

// New returns the logger and a closer for the rotated file, if any.
func New(opts Options) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}
	return newLogger(w, opts.Level), closer
}

func newLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	})
	return slog.New(handler)
}

func levelFromString(level string) slog.Leveler {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
