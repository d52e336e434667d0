package array

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors of the array controller.
var (
	ErrInvalidConfig    = errors.New("array: invalid configuration")
	ErrTooFewEndpoints  = errors.New("array: at least two endpoints are required")
	ErrCapacityMismatch = errors.New("array: endpoint capacities differ")
	ErrMisaligned       = errors.New("array: transfer is not sector aligned")
	ErrOutOfRange       = errors.New("array: transfer exceeds the array capacity")
	ErrNoEndpoint       = errors.New("array: no such endpoint")
	ErrNoConsistentCopy = errors.New("array: no consistent mirror")
	ErrPartialStripe    = errors.New("array: partial stripe")
	ErrMirrorDivergence = errors.New("array: mirror divergence")
	ErrAllMirrorsFailed = errors.New("array: every mirror failed")
)

// Chunk is the part of a striped transfer that one endpoint serves.
type Chunk struct {
	// Index is the position of the chunk within the transfer.
	Index int

	Endpoint int

	// Offset is the logical byte offset of the chunk; EndpointOffset is
	// where it lives on the endpoint.
	Offset         uint64
	EndpointOffset uint64
	Length         int
}

// ChunkResult is the outcome of one chunk.
type ChunkResult struct {
	Chunk
	Err error
}

// StripeError reports a striped transfer in which at least one chunk failed.
// No data of the transfer is returned.
type StripeError struct {
	Op     string
	Offset uint64
	Length int
	Chunks []ChunkResult
}

// Failed returns the chunks that failed.
func (e *StripeError) Failed() []ChunkResult {
	var out []ChunkResult
	for _, c := range e.Chunks {
		if c.Err != nil {
			out = append(out, c)
		}
	}

	return out
}

func (e *StripeError) Error() string {
	failed := e.Failed()
	parts := make([]string, 0, len(failed))

	for _, c := range failed {
		parts = append(parts, fmt.Sprintf("chunk %d on endpoint %d at %d: %v",
			c.Index, c.Endpoint, c.EndpointOffset, c.Err))
	}

	return fmt.Sprintf("%v: %s of %d bytes at %d, %d of %d chunks failed: %s",
		ErrPartialStripe, e.Op, e.Length, e.Offset,
		len(failed), len(e.Chunks), strings.Join(parts, "; "))
}

// Unwrap returns ErrPartialStripe followed by the chunk errors.
func (e *StripeError) Unwrap() []error {
	errs := []error{ErrPartialStripe}
	for _, c := range e.Failed() {
		errs = append(errs, c.Err)
	}

	return errs
}

// MirrorError reports a mirrored write that succeeded on some endpoints and
// failed on others. The failed endpoints are marked stale.
type MirrorError struct {
	Offset    uint64
	Length    int
	Succeeded []int
	Failed    map[int]error
}

// FailedEndpoints returns the failed endpoint indices in order.
func (e *MirrorError) FailedEndpoints() []int {
	out := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		out = append(out, i)
	}

	sort.Ints(out)

	return out
}

func (e *MirrorError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, i := range e.FailedEndpoints() {
		parts = append(parts, fmt.Sprintf("endpoint %d: %v", i, e.Failed[i]))
	}

	return fmt.Sprintf("%v: write of %d bytes at %d succeeded on %v, failed on %s",
		ErrMirrorDivergence, e.Length, e.Offset, e.Succeeded,
		strings.Join(parts, "; "))
}

// Unwrap returns ErrMirrorDivergence followed by the endpoint errors.
func (e *MirrorError) Unwrap() []error {
	errs := []error{ErrMirrorDivergence}
	for _, i := range e.FailedEndpoints() {
		errs = append(errs, e.Failed[i])
	}

	return errs
}
