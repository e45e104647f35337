// Package logger builds the logrus loggers handed to every fleetctl component.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"fleetconsole/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New builds a logger from cfg. An unparseable level falls back to info.
func New(cfg *config.LogConfig) (*logrus.Logger, error) {
	if cfg == nil {
		return nil, errors.New("log config cannot be nil")
	}

	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		log.Warnf("invalid log level %q, using info", cfg.Level)
	}
	log.SetLevel(level)

	if err := setFormatter(log, cfg); err != nil {
		return nil, err
	}
	if err := setOutput(log, cfg); err != nil {
		return nil, err
	}
	log.SetReportCaller(cfg.Caller)
	return log, nil
}

// ForTUI returns a logger that never writes to the terminal the TUI owns:
// file output is kept, anything else is discarded.
func ForTUI(cfg *config.LogConfig) (*logrus.Logger, error) {
	if cfg != nil && strings.EqualFold(cfg.Output, "file") {
		return New(cfg)
	}
	return Discard(), nil
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Component tags entries with the emitting component.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}

func setFormatter(log *logrus.Logger, cfg *config.LogConfig) error {
	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
				logrus.FieldKeyFile:  "file",
			},
		})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return errors.Newf("unsupported log format: %s", cfg.Format)
	}
	return nil
}

func setOutput(log *logrus.Logger, cfg *config.LogConfig) error {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		log.SetOutput(os.Stdout)
	case "stderr", "":
		log.SetOutput(os.Stderr)
	case "file":
		if cfg.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return errors.Wrap(err, "create log directory")
		}
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	default:
		return errors.Newf("unsupported log output: %s", cfg.Output)
	}
	return nil
}
