package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

func colorize(s any, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// New creates a logger based on the ENV environment variable. Console output
// for development, JSON otherwise. verbose lowers the level to debug.
func New(verbose bool) zerolog.Logger {
	var l zerolog.Logger
	switch env := os.Getenv("ENV"); env {
	case "development", "dev", "":
		l = NewDevelopment(os.Stderr)
	default:
		l = NewProduction(os.Stderr)
	}
	if verbose {
		return l.Level(zerolog.DebugLevel)
	}
	return l.Level(zerolog.InfoLevel)
}

// NewDevelopment creates a console logger with colored levels.
func NewDevelopment(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:         w,
		TimeFormat:  "2006-01-02 15:04:05",
		FormatLevel: formatLevel,
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewProduction creates a JSON logger with UNIX timestamps. The timestamp is
// added per event, so zerolog.TimeFieldFormat is left untouched.
func NewProduction(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Hook(unixTimestamp{})
}

type unixTimestamp struct{}

func (unixTimestamp) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Int64(zerolog.TimestampFieldName, time.Now().Unix())
}

func formatLevel(i any) string {
	ll, ok := i.(string)
	if !ok {
		return strings.ToUpper(fmt.Sprint(i))
	}
	switch ll {
	case "trace":
		return colorize("TRC", colorMagenta)
	case "debug":
		return colorize("DBG", colorYellow)
	case "info":
		return colorize("INF", colorGreen)
	case "warn":
		return colorize("WRN", colorRed)
	case "error", "fatal", "panic":
		return colorize(strings.ToUpper(ll)[0:3], colorRed)
	default:
		if len(ll) >= 3 {
			ll = ll[0:3]
		}
		return colorize(strings.ToUpper(ll), colorBold)
	}
}
