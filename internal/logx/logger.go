// Package logx configures the process-wide structured logger.
package logx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Initialize must run before any component
// logs; until then this is the zero-value zerolog.Logger, which has no
// writer and drops every event.
var Log zerolog.Logger

// Initialize configures the global logger from level/json settings resolved
// by internal/config. json=false renders a human console writer (useful in a
// terminal); json=true emits one JSON object per line, suitable for a log
// aggregator.
func Initialize(level string, json bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w zerolog.Logger
	if json {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		w = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		w = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	Log = w.With().Str("service", "united").Logger()
	log.Logger = Log

	Log.Info().Str("level", lvl.String()).Bool("json", json).Msg("logger initialized")
}

// Component returns a child logger tagged with a component name, matching
// the per-subsystem loggers a background task or handler group should use
// (e.g. logx.Component("gossip"), logx.Component("blocks.retention")).
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
