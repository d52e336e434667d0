package bist

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FrameResult is the verdict on one frame of a run.
type FrameResult struct {
	Index    int
	Fault    Fault
	Injected bool
	Expected Outcome
	Observed Outcome
	Passed   bool
	Detail   string
}

// FaultSummary counts the frames that carried one fault kind.
type FaultSummary struct {
	Frames int
	Passed int
}

// A RunReport is the result of a BIST run.
type RunReport struct {
	Name     string
	Pattern  Pattern
	Frames   int
	Injected int
	Passed   int
	Failed   int
	Words    uint64
	Duration time.Duration
	Results  []FrameResult
	ByFault  map[FaultKind]FaultSummary
}

func newReport(name string, p Pattern) *RunReport {
	return &RunReport{
		Name:    name,
		Pattern: p,
		Results: make([]FrameResult, 0, p.Frames),
		ByFault: make(map[FaultKind]FaultSummary),
	}
}

func (r *RunReport) add(res FrameResult) {
	r.Results = append(r.Results, res)
	r.Frames++
	r.Words += uint64(r.Pattern.Words)

	if res.Injected {
		r.Injected++
	}

	s := r.ByFault[res.Fault.Kind]
	s.Frames++

	if res.Passed {
		r.Passed++
		s.Passed++
	} else {
		r.Failed++
	}

	r.ByFault[res.Fault.Kind] = s
}

// OK reports whether every frame was classified as expected.
func (r *RunReport) OK() bool {
	return r.Failed == 0
}

// Failures returns the results of the frames that did not pass.
func (r *RunReport) Failures() []FrameResult {
	var out []FrameResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}

	return out
}

func (r *RunReport) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %d frames (%v x %d words), %d injected, %d passed, %d failed in %v\n",
		r.Name, r.Frames, r.Pattern.Kind, r.Pattern.Words,
		r.Injected, r.Passed, r.Failed, r.Duration.Round(time.Microsecond))

	kinds := make([]FaultKind, 0, len(r.ByFault))
	for k := range r.ByFault {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, k := range kinds {
		s := r.ByFault[k]
		fmt.Fprintf(&b, "  %-16s %5d/%d\n", k, s.Passed, s.Frames)
	}

	for _, res := range r.Failures() {
		fmt.Fprintf(&b, "  frame %d: %v expected %v, observed %v: %s\n",
			res.Index, res.Fault.Kind, res.Expected, res.Observed, res.Detail)
	}

	return b.String()
}
