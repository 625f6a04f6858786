package logger

import corelogger "github.com/kilianp07/ocppcore/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards everything.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component. The output format follows
// the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// WithField returns l with an extra field when the implementation supports
// it, and l unchanged otherwise.
func WithField(l Logger, key, value string) Logger {
	if z, ok := l.(*ZerologLogger); ok {
		return z.With(key, value)
	}
	return l
}
