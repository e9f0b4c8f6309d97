// Package report routes sync failures to a sink without ever failing the
// caller.
package report

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Reporter receives errors from detached sync work. Implementations must
// not panic and must ignore nil errors.
type Reporter interface {
	Report(err error, op string)
}

// Func adapts a function to a Reporter.
type Func func(err error, op string)

// Report implements Reporter.
func (f Func) Report(err error, op string) {
	if err == nil || f == nil {
		return
	}
	defer func() { _ = recover() }()
	f(err, op)
}

// Discard drops every report.
var Discard Reporter = Func(func(error, string) {})

// Logger writes reports as zerolog warn events carrying the failing
// operation in the syncOperation field.
type Logger struct {
	logger zerolog.Logger
}

// New returns a Logger writing JSON lines to w. nil means stderr.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		logger: zerolog.New(zerolog.SyncWriter(w)).With().Timestamp().Str("component", "sync").Logger(),
	}
}

// NewConsole returns a Logger with human-readable output for terminals.
func NewConsole(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return &Logger{
		logger: zerolog.New(out).With().Timestamp().Logger(),
	}
}

// Report implements Reporter.
func (l *Logger) Report(err error, op string) {
	if err == nil || l == nil {
		return
	}
	defer func() { _ = recover() }()
	l.logger.Warn().Err(err).Str("syncOperation", op).Msgf("sync %s failed", op)
}

// Multi fans a report out to several reporters in order.
func Multi(reporters ...Reporter) Reporter {
	return Func(func(err error, op string) {
		for _, r := range reporters {
			if r != nil {
				r.Report(err, op)
			}
		}
	})
}
