package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps a zerolog.Logger to implement the Logger interface.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger from zerolog.Logger.
func NewZerologAdapter(l zerolog.Logger) Logger {
	return &ZerologAdapter{logger: l}
}

// NewConsoleLogger creates a human readable zerolog logger writing to w
// (stderr when nil).
func NewConsoleLogger(w io.Writer, level LogLevel) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(zerologLevel(level)).
		With().Timestamp().Logger()
	return NewZerologAdapter(l)
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *ZerologAdapter) emit(e *zerolog.Event, msg string, args []any) {
	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			e = e.Interface(fmt.Sprintf("arg%d", i), args[i])
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			e = e.AnErr(key, err)
		} else {
			e = e.Interface(key, args[i+1])
		}
		i++
	}
	e.Msg(msg)
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { z.emit(z.logger.Debug(), msg, args) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { z.emit(z.logger.Info(), msg, args) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { z.emit(z.logger.Warn(), msg, args) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { z.emit(z.logger.Error(), msg, args) }
