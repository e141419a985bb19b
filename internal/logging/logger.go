// Package logging provides structured logging with file output support.
// It uses environment variables for configuration and supports file cleanup.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const filePrefix = "cfgwalk-"

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	Path   string // log file, empty when logging to a terminal stream
	out    io.Writer
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to a level. Anything else is info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	lg.SetLevel(ParseLevel(os.Getenv("CFGWALK_LOG_LEVEL")))

	prefix := os.Getenv("CFGWALK_LOG_PREFIX")
	if prefix == "" {
		prefix = "cfgwalk "
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		out:    w,
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// CFGWALK_LOG_LEVEL: debug, info, warn, error (default: info)
// CFGWALK_LOG_PREFIX: prefix for log messages (default: "cfgwalk ")
// CFGWALK_LOG_TO_FILE: when set to "1", logs to a timestamped file in dir instead of stderr
func NewLogger(dir string) *LoggerCloser {
	if os.Getenv("CFGWALK_LOG_TO_FILE") != "1" {
		return NewLoggerWithWriter(os.Stderr)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s%s-debug.log", filePrefix, time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		// If file creation fails, fall back to stderr
		return NewLoggerWithWriter(os.Stderr)
	}
	lc := NewLoggerWithWriter(f)
	lc.Path = path
	return lc
}

// Quiet discards terminal output until restore is called, for when a full
// screen UI owns the terminal. File loggers keep writing.
func (lc *LoggerCloser) Quiet() (restore func()) {
	if lc.Path != "" {
		return func() {}
	}
	lc.SetOutput(io.Discard)
	return func() { lc.SetOutput(lc.out) }
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return ParseLevel(os.Getenv("CFGWALK_LOG_LEVEL")) == log.DebugLevel
}

// ErrNoLogFile is returned by Latest when dir holds no log files.
var ErrNoLogFile = errors.New("no log files")

// Latest returns the most recent log file written to dir. File names embed
// their creation time, so the lexically greatest one is the newest.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*-debug.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s: %w", dir, ErrNoLogFile)
	}
	return slices.Max(matches), nil
}
