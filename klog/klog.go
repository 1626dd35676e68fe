// Package klog is the core's logging shim: a thin wrapper over the
// standard library's log.Logger writing to an injectable io.Writer, so
// that hosted tests can capture output and stage 1 of boot can swap in
// the real early-console writer once one exists.
package klog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level is a coarse log severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is a leveled wrapper over a standard library log.Logger. The
// zero value is not usable; use New.
type Logger struct {
	mu  sync.Mutex
	min Level
	std *log.Logger
}

// New returns a Logger writing lines at or above min to w, prefixed with
// name.
func New(w io.Writer, name string, min Level) *Logger {
	return &Logger{min: min, std: log.New(w, name+": ", log.Lmicroseconds)}
}

// Default is the process-wide logger, writing to stderr until SetOutput
// redirects it; bootstage does not call SetOutput.
var Default = New(os.Stderr, "cascade", Info)

// SetOutput redirects where the default logger writes, preserving its
// level and name prefix.
func SetOutput(w io.Writer) {
	Default.mu.Lock()
	defer Default.mu.Unlock()
	Default.std.SetOutput(w)
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.std.Print(level.String() + ": " + fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, format, args...) }

func Debugf(format string, args ...any) { Default.Debugf(format, args...) }
func Infof(format string, args ...any)  { Default.Infof(format, args...) }
func Warnf(format string, args ...any)  { Default.Warnf(format, args...) }
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }
