// Package logging builds the zerolog logger shared by every component.
//
// Events always go to an in-memory Buffer (which the terminal UI tails and
// which can mirror lines to a session log file). Console output on stderr is
// human readable by default and JSON when requested.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	consoleTimeFormat = "15:04:05.000"
	bufferTimeFormat  = "15:04:05"
)

type Config struct {
	Level   string
	Console bool
	JSON    bool
	File    string    // session log file mirrored from the buffer
	Lines   int       // buffer capacity
	Out     io.Writer // console destination, stderr when nil
}

// New returns the root logger and the buffer it writes to. The caller owns
// the buffer and closes it on exit.
func New(cfg Config) (zerolog.Logger, *Buffer) {
	buf := NewBuffer(cfg.File, cfg.Lines)

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: buf, NoColor: true, TimeFormat: bufferTimeFormat},
	}
	if cfg.Console {
		out := cfg.Out
		if out == nil {
			out = os.Stderr
		}
		if cfg.JSON {
			writers = append(writers, out)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat})
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
	return logger, buf
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
