package logging

import "context"

var _ Logger = (*NullLogger)(nil)

// discard is shared by OrNull; NullLogger carries no state
var discard = &NullLogger{}

// NullLogger drops every entry. Components fall back to it through OrNull
// when no logger is configured, and the CLI uses it in quiet mode.
type NullLogger struct{}

// NewNullLogger creates a new null logger
func NewNullLogger() *NullLogger {
	return discard
}

func (l *NullLogger) Debug(context.Context, string, Fields) {}

func (l *NullLogger) Info(context.Context, string, Fields) {}

func (l *NullLogger) Warn(context.Context, string, Fields) {}

func (l *NullLogger) Error(context.Context, string, error, Fields) {}

// WithFields returns the receiver; there is nothing to annotate
func (l *NullLogger) WithFields(Fields) Logger {
	return l
}

// Close is a no-op
func (l *NullLogger) Close() error {
	return nil
}
