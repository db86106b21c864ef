// Package status defines the completion taxonomy shared by every layer of the
// collective engine. Status values implement error so they can be wrapped with
// context and matched with errors.Is.
package status

import (
	"errors"
	"fmt"
)

// Status is the state of an operation or the class of its failure.
type Status int

const (
	// OK is never returned as an error; a nil error means OK.
	OK Status = iota
	InProgress
	Unsupported
	NoMemory
	NoResource
	IOError
	InvalidParam
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case InProgress:
		return "in progress"
	case Unsupported:
		return "unsupported"
	case NoMemory:
		return "no memory"
	case NoResource:
		return "no resource"
	case IOError:
		return "io error"
	case InvalidParam:
		return "invalid parameter"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) Error() string {
	return "collective: " + s.String()
}

// Terminal reports whether s ends an operation.
func (s Status) Terminal() bool {
	return s != InProgress
}

// Errorf wraps s with a formatted reason.
func Errorf(s Status, format string, args ...any) error {
	return fmt.Errorf("%w: %s", s, fmt.Sprintf(format, args...))
}

// Of classifies err. Errors that carry no Status are reported as IOError.
func Of(err error) Status {
	if err == nil {
		return OK
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return IOError
}

// IsInProgress reports whether err means the operation has not finished yet.
func IsInProgress(err error) bool {
	return errors.Is(err, InProgress)
}
