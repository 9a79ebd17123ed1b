package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup builds the process logger. dev switches to a human readable console
// writer at debug level.
func Setup(dev bool) zerolog.Logger {
	return setup(os.Stderr, dev)
}

// Install sets logger as the global logger used by library packages and
// returns it.
func Install(logger zerolog.Logger) zerolog.Logger {
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
	return logger
}

func setup(out io.Writer, dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.Kitchen)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}
