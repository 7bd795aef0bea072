package cliconfig

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger returns the console logger used before configuration is resolved.
func Logger() zerolog.Logger {
	return NewLogger(os.Stderr, "info", LogFormatConsole)
}

// NewLogger builds a logger writing to w. Unknown levels fall back to info;
// any format other than json is rendered for humans.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format != LogFormatJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
