package common

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Output is JSON on stdout; level
// falls back to info when unparseable.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// StdLogger adapts a zerolog logger for code that wants a *log.Logger,
// such as httputil.ReverseProxy.ErrorLog.
func StdLogger(logger zerolog.Logger) *log.Logger {
	return log.New(logger, "", 0)
}
