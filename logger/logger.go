package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger instantiate zerolog configuration
func NewLogger() *zerolog.Logger {
	return newLogger(os.Stdout)
}

// newLogger builds the logger writing to out
func newLogger(out io.Writer) *zerolog.Logger {
	var logger zerolog.Logger
	switch strings.TrimSpace(os.Getenv("QUORUMVOTE_LOG_LEVEL")) {
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if strings.TrimSpace(os.Getenv("QUORUMVOTE_LOG_FORMAT_JSON")) == "" {
		output := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %s |", i))
		}
		output.FormatMessage = func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		}

		logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	}
	return &logger
}

// NewNodeLogger returns a logger carrying the role and port
// of the node so that interleaved output of several nodes
// stays readable
func NewNodeLogger(role string, port int) *zerolog.Logger {
	return newNodeLogger(os.Stdout, role, port)
}

func newNodeLogger(out io.Writer, role string, port int) *zerolog.Logger {
	l := newLogger(out).With().Str("role", role).Int("port", port).Logger()
	return &l
}
