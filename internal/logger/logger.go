package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the process-wide logger with a JSON writer on stderr.
// It ensures that the logger is initialized only once; the level can be
// adjusted later via SetLevel once config is loaded.
func Init() {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() zerolog.Logger {
	Init()
	return defaultLogger
}

// With returns a sub-logger tagged with a component field.
func With(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// SetLevel applies the configured level to the global filter. Unknown
// levels fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Info logs an informational message with alternating key/value fields.
func Info(msg string, args ...any) {
	l := Get()
	logFields(l.Info(), msg, args)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	l := Get()
	logFields(l.Warn(), msg, args)
}

// Error logs an error with its cause attached.
func Error(msg string, err error, args ...any) {
	l := Get()
	logFields(l.Error().Err(err), msg, args)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	l := Get()
	logFields(l.Debug(), msg, args)
}

func logFields(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
