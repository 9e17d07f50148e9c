// Package logger builds the process-wide zerolog logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"shed-tournament/internal/config"
)

// New creates a zerolog logger from the log configuration and installs it
// as the global log.Logger and the default context logger.
func New(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Console {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	logger = logger.With().
		Timestamp().
		Caller().
		Logger().
		Level(level)

	log.Logger = logger
	// Code paths without a request logger in their context fall back to
	// the global one.
	zerolog.DefaultContextLogger = &log.Logger
	return logger
}
