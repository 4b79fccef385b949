// Package util carries the ambient logging and small numeric helpers shared
// across the raft core, adapted from a leveled Write* API onto zerolog so
// every package gets structured, leveled output instead of raw fmt.Printf.
package util

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a logging verbosity level, ordered least to most verbose.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarning logs warnings and errors.
	LevelWarning
	// LevelInfo logs info, warnings and errors.
	LevelInfo
	// LevelVerbose adds per-request detail on top of LevelInfo.
	LevelVerbose
	// LevelTrace logs everything, including routine replication traffic.
	LevelTrace
)

// Config controls how Init builds the global logger.
type Config struct {
	Level      Level
	Component  string
	JSONOutput bool
	Output     io.Writer
}

var logger zerolog.Logger

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(toZerolog(LevelInfo))
}

// Init (re)configures the package-global logger. Called once by the
// operational entry point; safe to call again in tests.
func Init(cfg Config) {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var base zerolog.Logger
	if cfg.JSONOutput {
		base = zerolog.New(output).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}

	base = base.Level(toZerolog(cfg.Level))
	if cfg.Component != "" {
		base = base.With().Str("component", cfg.Component).Logger()
	}
	logger = base
}

// WithNode returns a child logger tagged with the given node id, used to
// disambiguate log lines in multi-node test harnesses sharing one process.
func WithNode(nodeID string) zerolog.Logger {
	return logger.With().Str("node_id", nodeID).Logger()
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelVerbose:
		return zerolog.DebugLevel
	case LevelTrace:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogLevel adjusts the verbosity of the global logger in place.
func SetLogLevel(level Level) {
	logger = logger.Level(toZerolog(level))
}

// WriteError logs an error-level message.
func WriteError(format string, v ...interface{}) {
	logger.Error().Msgf(format, v...)
}

// WriteWarning logs a warning-level message.
func WriteWarning(format string, v ...interface{}) {
	logger.Warn().Msgf(format, v...)
}

// WriteInfo logs an info-level message, used for role transitions and
// lifecycle events.
func WriteInfo(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

// WriteVerbose logs per-request detail below info but above trace.
func WriteVerbose(format string, v ...interface{}) {
	logger.Debug().Msgf(format, v...)
}

// WriteTrace logs routine replication traffic.
func WriteTrace(format string, v ...interface{}) {
	logger.Trace().Msgf(format, v...)
}

// Panicf logs at error level and then panics, matching the behavior callers
// expect from invariant violations inside the server's mailbox goroutine.
func Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	logger.Error().Msg(msg)
	panic(msg)
}

// Panicln logs the given value at error level and then panics.
func Panicln(v interface{}) {
	logger.Error().Interface("cause", v).Msg("fatal invariant violation")
	panic(v)
}

// Fatalf logs at error level and terminates the process. Reserved for
// startup failures (bad config, unavailable data directory) where
// continuing would be unsafe.
func Fatalf(format string, v ...interface{}) {
	logger.Fatal().Msgf(format, v...)
}
