// Package logging configures the one zerolog.Logger relaycore's packages
// derive their own loggers from, matching the teacher's single
// "var log, chk = slog.New(os.Stderr)" package-init pattern but with a
// real structured logging library backing it.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a console-formatted logger writing to w at the given level.
// debug=true switches to zerolog.DebugLevel; otherwise zerolog.InfoLevel.
func New(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Default is a package-level info-level logger writing to stderr.
var Default = New(os.Stderr, false)
