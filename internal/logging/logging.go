// Package logging configures the structured diagnostic log. User-facing CLI output does not go
// through here; it is written directly to stderr by the commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where diagnostics go.
type Options struct {
	// File enables a rotating log file. Empty means stderr.
	File    string
	Verbose bool
}

var current atomic.Pointer[slog.Logger]

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	return current.Load()
}

// SetLogger replaces the process logger. Tests use it to capture output.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	current.Store(l)
}

// Setup builds the logger described by opts and installs it. The returned closer flushes
// and closes the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 2,
			MaxAge:     28, // days
			Compress:   true,
		}
		out, closer = lj, lj
		// The file gets everything; stderr stays quiet for the progress bar.
		level = slog.LevelDebug
	}

	SetLogger(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
	return closer, nil
}
