// Package logging builds the loggers shared by the sync engine components.
//
// Every component takes a *log.Logger with a bracketed prefix. New returns a
// factory whose loggers write to stderr and, when a log file is configured,
// also into a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log output.
type Options struct {
	// File enables a rotating log file when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops stderr output, leaving only the file.
	Quiet bool

	// Stderr overrides os.Stderr, for tests.
	Stderr io.Writer
}

// Logs hands out component loggers sharing one writer.
type Logs struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New creates the shared writer.
func New(opts Options) (*Logs, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, stderr)
	}

	l := &Logs{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l, nil
}

// Discard returns logs that write nowhere.
func Discard() *Logs {
	return &Logs{out: io.Discard}
}

// Logger returns a logger for component, prefixed "[component] ".
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared writer.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// Close closes the log file, if any.
func (l *Logs) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
