package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger = zerolog.Nop()

// Init configures the global structured logger. Format is "console" for
// human-readable output or "json" for machine-readable logs.
func Init(level, format string) {
	lvl := parseLevel(level)

	var out zerolog.Logger
	if format == "json" {
		out = zerolog.New(os.Stderr)
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		})
	}

	logger = out.Level(lvl).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
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

// Logger returns the global logger instance.
func Logger() zerolog.Logger {
	return logger
}

// Debug starts a debug-level event.
func Debug() *zerolog.Event { return logger.Debug() }

// Info starts an info-level event.
func Info() *zerolog.Event { return logger.Info() }

// Warn starts a warn-level event.
func Warn() *zerolog.Event { return logger.Warn() }

// Error starts an error-level event.
func Error() *zerolog.Event { return logger.Error() }
