package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var levels = map[string]zerolog.Level{
	"TRACE":    zerolog.TraceLevel,
	"DEBUG":    zerolog.DebugLevel,
	"INFO":     zerolog.InfoLevel,
	"WARN":     zerolog.WarnLevel,
	"ERROR":    zerolog.ErrorLevel,
	"FATAL":    zerolog.FatalLevel,
	"PANIC":    zerolog.PanicLevel,
	"DISABLED": zerolog.Disabled,
}

// ParseLevel maps a level name such as INFO or debug to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	l, ok := levels[strings.ToUpper(strings.TrimSpace(level))]
	if !ok {
		return zerolog.NoLevel, fmt.Errorf("incorrect log level %s", level)
	}
	return l, nil
}

// Init sets the global level and points the global logger at a console writer on stderr.
func Init(level, app string) error {
	return InitWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level, app)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(w io.Writer, level, app string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	zerolog.DurationFieldUnit = time.Millisecond

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("app", app).
		Caller().
		Logger()
	log.Debug().Str("level", l.String()).Msg("logger initialized")
	return nil
}
