// Package logger configures the process-wide zerolog instance. Components
// pull tagged sub-loggers through GetForComponent so cellar, queue, and
// engine output can be filtered apart in one stream.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the shared root logger. Initialize must run before it is useful;
// until then it writes nowhere.
var Logger zerolog.Logger

// Initialize sets up the root logger with console output and the given level.
func Initialize(logLevel string) {
	zerolog.TimeFieldFormat = time.RFC3339

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	}

	Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Caller().
		Logger()

	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Route the standard zerolog global through the same writer.
	log.Logger = Logger
}

// Get returns the root logger.
func Get() *zerolog.Logger {
	return &Logger
}

// GetForComponent returns a logger tagged with a component field, e.g.
// "cellar", "atomic_queue", "engine".
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// FileWriter opens an append-only log file for use alongside console output,
// typically combined with zerolog.MultiLevelWriter.
func FileWriter(path string) (io.Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}
	return file, nil
}
