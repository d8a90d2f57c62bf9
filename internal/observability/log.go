// Package observability wires structured logging and metrics shared by the
// engine and orchestrator processes.
package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a process-scoped logger: a pretty console writer in
// development, newline-delimited JSON when MUSIC_ENV=production. component
// is attached to every line so the §7 error taxonomy stays queryable by
// engine/orchestrator/transport/client.
func NewLogger(component string) zerolog.Logger {
	var w zerolog.ConsoleWriter = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	var logger zerolog.Logger
	if os.Getenv("MUSIC_ENV") == "production" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(w)
	}

	return logger.With().Timestamp().Str("component", component).Logger()
}
