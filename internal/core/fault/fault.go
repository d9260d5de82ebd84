// Package fault classifies hub errors so callers can pick a policy per class.
package fault

import (
	"errors"
	"fmt"
)

// Class is the failure category of an error.
type Class string

const (
	// ClassStartup covers configuration problems and bind/connect failures.
	ClassStartup Class = "startup"
	// ClassRuntime covers send/receive failures on an established socket.
	ClassRuntime Class = "runtime"
	// ClassRecoverable covers conditions handled where they occur.
	ClassRecoverable Class = "recoverable"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Class Class
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Op)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

func Startup(op string, cause error) *Error {
	return &Error{Class: ClassStartup, Op: op, Cause: cause}
}

func Runtime(op string, cause error) *Error {
	return &Error{Class: ClassRuntime, Op: op, Cause: cause}
}

func Recoverable(op string, cause error) *Error {
	return &Error{Class: ClassRecoverable, Op: op, Cause: cause}
}

// ClassOf reports the class of the first *Error in err's chain.
func ClassOf(err error) (Class, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class, true
	}
	return "", false
}

func IsStartup(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ClassStartup
}

func IsRuntime(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ClassRuntime
}
