// Package logging configures the collector's console and file logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Config holds console and file logging settings.
type Config struct {
	// Console log level, e.g. info, debug
	Level string `mapstructure:"level"`
	// Console output format, "text" or "json"
	Format string `mapstructure:"format"`
	// File logging, rotated by lumberjack. Empty path disables it.
	File       string `mapstructure:"file"`
	FileLevel  string `mapstructure:"fileLevel"`
	MaxSizeMb  int    `mapstructure:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// levelWriter drops events below its level before handing them to the wrapped writer.
type levelWriter struct {
	level  zerolog.Level
	writer io.Writer
}

func (w *levelWriter) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}

func (w *levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.level {
		return len(p), nil
	}
	return w.writer.Write(p)
}

// New builds a logger writing to stdout and, when cfg.File is set, to a rotated log file.
// The returned closer flushes and closes the file writer.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, stdout io.Writer) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = RFC3339Milli

	consoleLevel, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	writers := []io.Writer{consoleWriter(stdout, consoleLevel, cfg.Format)}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		fileLevel, err := parseLevel(cfg.FileLevel)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		if dir := filepath.Dir(cfg.File); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return zerolog.Nop(), nil, errors.Wrapf(err, "create log directory %s", dir)
			}
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMb,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		writers = append(writers, &levelWriter{level: fileLevel, writer: lj})
		closer = lj
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return logger, closer, nil
}

func consoleWriter(out io.Writer, level zerolog.Level, format string) *levelWriter {
	if strings.EqualFold(format, "json") {
		return &levelWriter{level: level, writer: out}
	}
	return &levelWriter{
		level: level,
		writer: zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: RFC3339Milli,
			NoColor:    true,
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-5s", i))
			},
		},
	}
}

func parseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log level %q", level)
	}
	return parsed, nil
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
