// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Options selects level and output format.
type Options struct {
	Level  string    // trace, debug, info, warn, error; empty means info
	Format string    // console or json; empty means console
	Output io.Writer // defaults to stderr
}

// New builds a logger and installs it as gnark's logger. gnark's compile
// and prove chatter is kept only at debug level or below.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("logging: %w", err)
		}
		level = l
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(opts.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Logger{}, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()

	if level <= zerolog.DebugLevel {
		gnarklogger.Set(log.With().Str("component", "gnark").Logger())
	} else {
		gnarklogger.Disable()
	}
	return log, nil
}
