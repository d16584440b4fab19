// Package errkind provides the shared error taxonomy for listen. Every
// failure surfaced to the user or over the command channel carries one of a
// small set of kinds so that callers can decide between fatal-at-startup and
// report-and-continue handling without string matching.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// Config covers invalid hotkey specs and malformed config files.
	// Fatal at startup.
	Config Kind = "config"

	// Device covers capture devices that are unavailable, busy, or denied.
	// Fatal to session startup; never retried automatically.
	Device Kind = "device"

	// Model covers transcription engine load and inference failures.
	Model Kind = "model"

	// Protocol covers malformed command-channel lines.
	Protocol Kind = "protocol"

	// State covers commands that are invalid in the current session state.
	State Kind = "state"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a classified error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind carried by err as a string, "unknown" for
// unclassified errors, and "" when err is nil. Used to tag metrics.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "unknown"
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
