package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

func Init(serviceName string, level string, pretty bool) {
	InitWithWriter(os.Stdout, serviceName, level, pretty)
}

func InitWithWriter(w io.Writer, serviceName string, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	Logger = zerolog.New(w).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Named returns a child logger tagged with a component name.
func Named(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

func Debug() *zerolog.Event {
	return Logger.Debug()
}

func Info() *zerolog.Event {
	return Logger.Info()
}

func Warn() *zerolog.Event {
	return Logger.Warn()
}

func Error() *zerolog.Event {
	return Logger.Error()
}

func Fatal() *zerolog.Event {
	return Logger.Fatal()
}
