// Package logging provides the leveled, prefixed logger the engines write to.
package logging

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pterm/pterm"
)

// DefaultPrefix tags every line written by the network core.
const DefaultPrefix = "[Net Core]"

// Logger is a pterm logger with a fixed prefix and a runtime debug switch.
// It is safe for concurrent use.
type Logger struct {
	prefix string
	base   *pterm.Logger
	debug  atomic.Bool
}

// New returns a logger writing to w, or to pterm's default writer when w is nil.
func New(prefix string, w io.Writer) *Logger {
	base := pterm.DefaultLogger.
		WithTime(true).
		WithTimeFormat("02 Jan 15:04:05").
		WithMaxWidth(1000).
		WithLevel(pterm.LogLevelTrace)
	if w != nil {
		base = base.WithWriter(w)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Logger{prefix: prefix, base: base}
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return New(DefaultPrefix, io.Discard)
}

// SetDebug enables or disables debug lines.
func (l *Logger) SetDebug(enable bool) {
	l.debug.Store(enable)
}

// IsDebug reports whether debug lines are written.
func (l *Logger) IsDebug() bool {
	return l.debug.Load()
}

func (l *Logger) line(format string, args []interface{}) string {
	return l.prefix + " " + fmt.Sprintf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.debug.Load() {
		return
	}
	l.base.Debug(l.line(format, args))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.base.Info(l.line(format, args))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.base.Warn(l.line(format, args))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.base.Error(l.line(format, args))
}
