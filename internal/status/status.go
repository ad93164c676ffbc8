// Package status defines the error taxonomy shared by every layer of the
// boot core. A Status is a small comparable value so callers can switch on
// it the way the original loader switched on its STATUS_* enum, while still
// satisfying the error interface for use with errors.Is/As and %w wrapping.
package status

import "fmt"

// Code identifies a kind of failure, grouped into operation-local,
// path-traversal, filesystem-level, device/firmware, and
// kernel-loader/configuration failures.
type Code int

const (
	// OK is never returned as an error; it exists so a Code's zero value
	// is distinguishable from "no status was set".
	OK Code = iota

	UnsupportedOp
	InvalidArg
	Timeout
	NoMemory

	NotDir
	NotFile
	NotFound
	EndOfFile
	SymlinkLimit

	UnknownFs
	CorruptFs
	ReadOnly

	DeviceError
	SystemError

	UnknownImage
	MalformedImage
)

var names = map[Code]string{
	OK:              "ok",
	UnsupportedOp:   "unsupported operation",
	InvalidArg:      "invalid argument",
	Timeout:         "timed out",
	NoMemory:        "out of memory",
	NotDir:          "not a directory",
	NotFile:         "not a file",
	NotFound:        "not found",
	EndOfFile:       "end of file",
	SymlinkLimit:    "too many symbolic links",
	UnknownFs:       "unrecognised filesystem",
	CorruptFs:       "corrupt filesystem",
	ReadOnly:        "filesystem is read-only",
	DeviceError:     "device error",
	SystemError:     "system error",
	UnknownImage:    "unrecognised kernel image",
	MalformedImage:  "malformed kernel image",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("status(%d)", int(c))
}

// Status is a Code carrying an optional human-readable detail, e.g. the
// path that was not found or the tag type that failed validation. It
// implements error so it composes with fmt.Errorf("%w") and errors.Is.
type Status struct {
	Code   Code
	Detail string
}

func New(c Code, detail string) *Status {
	return &Status{Code: c, Detail: detail}
}

func Newf(c Code, format string, args ...any) *Status {
	return &Status{Code: c, Detail: fmt.Sprintf(format, args...)}
}

func (s *Status) Error() string {
	if s.Detail == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Detail)
}

// Is lets errors.Is(err, status.Of(status.NotFound)) match regardless of
// Detail: a *Status target matches on Code alone.
func (s *Status) Is(target error) bool {
	t, ok := target.(*Status)
	if !ok {
		return false
	}
	return t.Code == s.Code
}

// Of returns a bare Status for a Code, suitable as an errors.Is target:
//
//	if errors.Is(err, status.Of(status.NotFound)) { ... }
func Of(c Code) *Status {
	return &Status{Code: c}
}

// Recoverable reports whether a Code belongs to the boot-error class
// (recoverable, drops to menu/shell) rather than the internal-error class
// (unrecoverable panic): device/filesystem/config errors are boot-errors;
// "cannot happen" invariant violations are internal.
func (c Code) Recoverable() bool {
	switch c {
	case DeviceError, SystemError, UnknownFs, CorruptFs, ReadOnly,
		NotDir, NotFile, NotFound, EndOfFile, SymlinkLimit,
		UnknownImage, MalformedImage, Timeout:
		return true
	default:
		return false
	}
}
