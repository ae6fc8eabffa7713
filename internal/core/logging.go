package core

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger intended to be used by all server components.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	var level logrus.Level
	switch cfg.Logging.LogLevel {
	case "debug":
		level = logrus.DebugLevel
	case "", "info":
		level = logrus.InfoLevel
	case "warn":
		level = logrus.WarnLevel
	case "error":
		level = logrus.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Logging.LogLevel)
	}

	out := os.Stdout
	if cfg.Logging.LogFilePath != "" {
		var err error
		out, err = os.OpenFile(cfg.Logging.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file %s: %w", cfg.Logging.LogFilePath, err)
		}
	}

	return &logrus.Logger{
		Out: out,
		Formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
		Hooks: make(logrus.LevelHooks),
		Level: level,
	}, nil
}
