// Package bootlog carries the ambient logging and error-reporting idiom of
// the boot core: a single structured logger (the target-language stand-in
// for the original's debug console) and two failure classes — InternalError
// (unrecoverable, panics with a backtrace) and BootError (recoverable,
// reported to the menu/shell boundary).
package bootlog

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide debug logger. The original loader has exactly one
// debug console; this is its equivalent singleton.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   false,
		DisableColors:   false,
		TimestampFormat: "15:04:05",
	})
	l.SetLevel(logrus.DebugLevel)
	return l
}

// InternalError represents a "cannot happen" invariant violation: a
// bug, not a recoverable condition. Constructing one captures a frame
// pointer-walked backtrace the way the original's internal_error() does.
type InternalError struct {
	Message   string
	Backtrace []uintptr
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// NewInternalError formats a message and captures the caller's stack,
// mirroring internal_error(fmt, ...) in the original loader.
func NewInternalError(format string, args ...any) *InternalError {
	pc := make([]uintptr, 32)
	n := runtime.Callers(2, pc)
	err := &InternalError{
		Message:   fmt.Sprintf(format, args...),
		Backtrace: pc[:n],
	}
	Log.WithField("backtrace_frames", n).Error(err.Message)
	return err
}

// FormatBacktrace renders the captured frames the way the original's
// console backtrace walk prints them: one "func (file:line)" per frame.
func (e *InternalError) FormatBacktrace() string {
	frames := runtime.CallersFrames(e.Backtrace)
	out := ""
	for {
		f, more := frames.Next()
		out += fmt.Sprintf("  %s (%s:%d)\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return out
}

// BootError is a recoverable failure: the caller should drop to the
// menu/shell rather than halt the process.
type BootError struct {
	Message string
	Cause   error
}

func (e *BootError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BootError) Unwrap() error { return e.Cause }

// NewBootError wraps cause (which may be nil) with a human summary,
// mirroring boot_error(fmt, ...).
func NewBootError(cause error, format string, args ...any) *BootError {
	err := &BootError{Message: fmt.Sprintf(format, args...), Cause: cause}
	Log.WithError(cause).Warn(err.Message)
	return err
}

// Hint returns the user-visible remediation hint for a boot error: a
// suggestion to check hardware, plus the reboot/shell/log options the menu
// offers. The menu package renders these into its window; this is just the
// fixed text.
func (e *BootError) Hint() string {
	return "verify installation media and memory; press R to reboot, " +
		"S for a shell, or L for the debug log"
}
