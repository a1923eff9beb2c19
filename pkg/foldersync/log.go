package foldersync

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// TimeFormat is the timestamp layout of every log line.
const TimeFormat = "2006-01-02 15:04:05"

// NewLogger creates a new logger instance with a specified level and output.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: TimeFormat,
		NoColor:    true,
	}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewFileLogger logs to stdout and appends to the file at path. It returns
// the logger and a close function for the file. An empty path logs to stdout
// only.
func NewFileLogger(stdout io.Writer, path string, level zerolog.Level) (zerolog.Logger, func() error, error) {
	if path == "" {
		return NewLogger(stdout, level), func() error { return nil }, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, errors.Errorf("open log file %s: %w", path, err)
	}
	return NewLogger(zerolog.MultiLevelWriter(stdout, file), level), file.Close, nil
}

// LogLevelFromString parses a string to a zerolog.Level.
func LogLevelFromString(levelStr string) (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(levelStr))
}
