package bist

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/link"
)

// Outcome is how the receiving link classified a frame.
type Outcome int

// Outcomes. Corrupted means a frame was delivered with a wrong payload, which
// a link must never do.
const (
	Delivered Outcome = iota
	CRCMismatch
	Truncated
	UnexpectedPrimitive
	Timeout
	Rejected
	Corrupted
	OtherError
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "Delivered"
	case CRCMismatch:
		return "CRCMismatch"
	case Truncated:
		return "Truncated"
	case UnexpectedPrimitive:
		return "UnexpectedPrimitive"
	case Timeout:
		return "Timeout"
	case Rejected:
		return "Rejected"
	case Corrupted:
		return "Corrupted"
	case OtherError:
		return "OtherError"
	}

	return fmt.Sprintf("Outcome(%d)", int(o))
}

func classify(err error, got fis.FIS, sent *fis.Data) Outcome {
	if err == nil {
		data, ok := got.(*fis.Data)
		if !ok || !slices.Equal(data.Payload, sent.Payload) {
			return Corrupted
		}

		return Delivered
	}

	switch {
	case errors.Is(err, link.ErrCRCMismatch):
		return CRCMismatch
	case errors.Is(err, link.ErrTruncated):
		return Truncated
	case errors.Is(err, link.ErrUnexpectedPrimitive):
		return UnexpectedPrimitive
	case errors.Is(err, link.ErrTimeout):
		return Timeout
	case errors.Is(err, link.ErrRejected):
		return Rejected
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}

	return OtherError
}
