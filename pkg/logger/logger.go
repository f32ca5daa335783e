// Package logger wraps logrus with azsecret's logging configuration,
// adapted from the teacher's pkg/logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so azsecret call sites take a single
// concrete type rather than the logrus package directly.
type Logger struct {
	*logrus.Logger
}

// Config configures a Logger; field names mirror the daemon's own
// config.Config.Logging so yaml/env decoding can populate this struct
// directly.
type Config struct {
	Level  string `yaml:"level" env:"AZSECRET_LOG_LEVEL"`
	Format string `yaml:"format" env:"AZSECRET_LOG_FORMAT"`
	Output string `yaml:"output" env:"AZSECRET_LOG_OUTPUT"`
}

// New builds a Logger from cfg: level defaults to info on a parse
// failure, format is text unless "json", output is stdout unless
// "file" (which additionally appends to logs/azsecretd.log).
func New(cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		if err := os.MkdirAll("logs", 0755); err != nil {
			log.Errorf("failed to create logs directory: %v", err)
			break
		}
		path := filepath.Join("logs", "azsecretd.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Errorf("failed to open log file: %v", err)
			break
		}
		log.SetOutput(io.MultiWriter(os.Stdout, file))
	default:
		log.SetOutput(os.Stdout)
	}

	return &Logger{Logger: log}
}

// NewDefault builds a Logger with sane defaults for tests and tools
// that don't load a full Config.
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "text", Output: "stdout"})
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
