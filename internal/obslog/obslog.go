// Package obslog provides the component-scoped structured logger every
// server package logs through. It wraps charmbracelet/log the way the
// teacher wraps the standard library's log package: a bracketed
// component prefix on every line (the teacher's "[auth] ..." convention),
// except here the prefix is a real structured field rather than a string
// baked into the format verb, so log lines remain machine-parseable.
package obslog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the shared structured-logging handle; components hold one
// scoped to their name via With("component", name).
type Logger = log.Logger

// New builds the root logger. w defaults to os.Stderr when nil.
func New(w io.Writer, level log.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return l
}

// Component returns a child logger tagged with name, the structured
// equivalent of the teacher's "[auth]"/"[ws]"-style bracketed prefixes.
func Component(root *Logger, name string) *Logger {
	return root.With("component", name)
}

// ConnLogger further scopes a component logger to one connection id,
// used by internal/core for every per-connection log line.
func ConnLogger(root *Logger, connID string) *Logger {
	return root.With("conn", connID)
}
