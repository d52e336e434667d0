package link

import (
	"errors"
	"fmt"
)

// Error kinds. A *Error wraps exactly one of them, so callers classify
// failures with errors.Is.
var (
	ErrCRCMismatch         = errors.New("CRC mismatch")
	ErrTruncated           = errors.New("frame truncated")
	ErrUnexpectedPrimitive = errors.New("unexpected primitive")
	ErrTimeout             = errors.New("frame timeout")
	ErrRejected            = errors.New("frame rejected by receiver")
)

// ErrBusy is returned when an operation is started while another one is in
// progress on the same link.
var ErrBusy = errors.New("link: busy")

// Kinds lists the error kinds in a stable order.
var Kinds = []error{
	ErrCRCMismatch,
	ErrTruncated,
	ErrUnexpectedPrimitive,
	ErrTimeout,
	ErrRejected,
}

// Phase tells where in the frame an error was detected.
type Phase int

// Phases of a frame.
const (
	PhaseIdle Phase = iota
	PhaseHandshake
	PhaseData
	PhaseTermination
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseHandshake:
		return "handshake"
	case PhaseData:
		return "data"
	case PhaseTermination:
		return "termination"
	}

	return fmt.Sprintf("Phase(%d)", int(p))
}

// Error is a link-level failure. The frame in progress was discarded.
type Error struct {
	Kind   error
	Phase  Phase
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("link: %v during %v", e.Kind, e.Phase)
	}

	return fmt.Sprintf("link: %v during %v: %s", e.Kind, e.Phase, e.Detail)
}

// Unwrap returns the error kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, phase Phase, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   kind,
		Phase:  phase,
		Detail: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of a link error, or nil if err is not one.
func KindOf(err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}

	return nil
}
