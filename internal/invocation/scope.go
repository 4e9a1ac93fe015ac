package invocation

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Scope carries per-run policy. It is built once per command and passed
// down explicitly; nothing here is process-global.
type Scope struct {
	Logger       zerolog.Logger
	Out          io.Writer
	Silent       bool
	BreakOnError bool
	Now          func() time.Time
}

// New returns a scope writing user-facing output to os.Stdout.
func New(logger zerolog.Logger, silent bool, breakOnError bool) Scope {
	return Scope{
		Logger:       logger,
		Out:          os.Stdout,
		Silent:       silent,
		BreakOnError: breakOnError,
		Now:          time.Now,
	}
}

// Discard is a quiet scope for embedding and tests.
func Discard() Scope {
	return Scope{
		Logger: zerolog.Nop(),
		Out:    io.Discard,
		Silent: true,
		Now:    time.Now,
	}
}

// Clock is the scope's current time, falling back to the wall clock.
func (s Scope) Clock() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Output is where plans and reports are written. Silent scopes discard it.
func (s Scope) Output() io.Writer {
	if s.Silent || s.Out == nil {
		return io.Discard
	}
	return s.Out
}
