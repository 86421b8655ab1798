// Package logging builds the process logger: hclog to stderr and, when a file
// is configured, a rotated copy on disk.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls New
type Options struct {
	Name  string
	Level string
	// File enables rotation into this path when set
	File string
	JSON bool
	// Output defaults to stderr
	Output io.Writer
}

// Logger wraps hclog with the rotated writer so it can be closed
type Logger struct {
	hclog.Logger
	rotate *lumberjack.Logger
}

var _ inter.Logger = (*Logger)(nil)

// New creates the root logger. Call Close on shutdown to release the log file.
func New(opts Options) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var rotate *lumberjack.Logger
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    32, // MB
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotate)
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
	})
	return &Logger{Logger: l, rotate: rotate}, nil
}

// Named returns a child logger for one component
func (l *Logger) Named(name string) inter.Logger {
	return l.Logger.Named(name)
}

// Close flushes and closes the rotated file, if any
func (l *Logger) Close() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Close()
}

// Nop returns a logger that discards everything
func Nop() inter.Logger {
	return hclog.NewNullLogger()
}
