package logger

import "codeberg.org/mutker/vawtctl/internal/errors"

// Logger defines the interface for logging operations. Collaborators that
// are constructed with a logger accept this instead of the package globals.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	With(component string) Logger
}
