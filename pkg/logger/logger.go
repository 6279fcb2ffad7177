// Package logger provides structured logging for the invoice splitter
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Service string // value of the "service" field on every line
	Level   string // debug, info, warn, error
	Pretty  bool   // human-readable console output
	Output  io.Writer
	// DebugFile enables rotating file logging under Dir and forces debug level.
	DebugFile bool
	Dir       string
}

// New creates a logger and returns a closer for any file sink it opened.
func New(cfg Config) (zerolog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if cfg.DebugFile {
		dir := cfg.Dir
		if dir == "" {
			dir = "logs"
		}
		name := cfg.Service
		if name == "" {
			name = "invoice-split"
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".log"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
		}
		closer = file
		// Console keeps the configured level; the file gets everything.
		output = zerolog.MultiLevelWriter(
			levelWriter{w: output, min: level},
			file,
		)
		level = zerolog.DebugLevel
	}

	zlog := zerolog.New(output).Level(level).With().Timestamp().Logger()
	if cfg.Service != "" {
		zlog = zlog.With().Str("service", cfg.Service).Logger()
	}
	return zlog, closer
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a sub-logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// ForAttachment returns a sub-logger scoped to one attachment run.
func ForAttachment(l zerolog.Logger, attachmentID int64, runID string) zerolog.Logger {
	return l.With().Int64("attachment_id", attachmentID).Str("run_id", runID).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// levelWriter drops events below min before they reach w.
type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (lw levelWriter) Write(p []byte) (int, error) { return lw.w.Write(p) }

func (lw levelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < lw.min {
		return len(p), nil
	}
	return lw.w.Write(p)
}
