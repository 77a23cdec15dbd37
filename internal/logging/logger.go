package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMB is the size at which the log file is rotated.
	logFileMaxSizeMB = 10

	// logFileMaxBackups is the number of rotated log files kept on disk.
	logFileMaxBackups = 3
)

// Options tunes the logger beyond the environment default.
type Options struct {
	// Verbose forces Debug level even in production.
	Verbose bool

	// File, when set, receives a copy of every record through a rotating
	// writer.
	File string

	// Out is the primary destination. Defaults to os.Stdout.
	Out io.Writer
}

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	logger, _ := New(env, Options{})
	return logger
}

// New builds a logger from env and opts. The returned closer flushes and
// closes the log file, if one was configured.
func New(env string, opts Options) (*slog.Logger, io.Closer) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler

	if env == "production" {
		if opts.Verbose {
			handlerOpts.Level = slog.LevelDebug
		}

		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handlerOpts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
