// Package wirelog provides the structured logging used throughout the
// transport: one zerolog.Logger per component (subscriber, broker, monitor,
// ...), consistent with the level-usage the spec calls for — debug for
// routine lifecycle/event traffic, error with cause for swallowed
// per-message failures.
package wirelog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// SetDebug toggles the global minimum level between info and debug.
func SetDebug(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetJSON switches the global writer to newline-delimited JSON, the format
// expected when a daemon's stderr is piped into a log collector.
func SetJSON() {
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// For returns a logger scoped to the named component, e.g. "subscriber",
// "broker", "publish-daemon", "monitor".
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// WithEndpoint adds an endpoint/URI field, used by every component that
// logs against a specific connected or bound address.
func WithEndpoint(l zerolog.Logger, endpoint string) zerolog.Logger {
	return l.With().Str("endpoint", endpoint).Logger()
}
