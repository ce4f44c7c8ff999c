package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger for the given environment.
// Development gets a human readable console writer and debug level.
func Init(appEnv string) zerolog.Logger {
	l := New(appEnv, os.Stdout)
	log.Logger = l
	// log.Ctx on contexts without a request logger (workers, pub/sub)
	zerolog.DefaultContextLogger = &l
	return l
}

// New builds a logger writing to out.
func New(appEnv string, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	l := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		l = l.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return l
}
