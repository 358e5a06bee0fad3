// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger construction
type Options struct {
	Level   string // debug, info, warn, error
	Console bool   // human-readable output for development
	Service string
	Out     io.Writer
}

// New builds a logger and installs it as the global zerolog logger.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	l := zerolog.New(out).With().Timestamp().Logger()
	if opts.Service != "" {
		l = l.With().Str("service", opts.Service).Logger()
	}
	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
