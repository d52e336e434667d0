package tracing

import (
	"fmt"

	"github.com/sarchlab/satalink/sim"
)

// A Tracer receives the tasks of the domains it collects from. StepTask and
// EndTask only carry the ID of the task and what the domain reported.
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// A MultiTracer forwards every task to a list of tracers, in order.
type MultiTracer struct {
	tracers []Tracer
}

// NewMultiTracer creates a MultiTracer over the non-nil tracers given.
func NewMultiTracer(tracers ...Tracer) *MultiTracer {
	m := &MultiTracer{}

	for _, t := range tracers {
		if t != nil {
			m.tracers = append(m.tracers, t)
		}
	}

	return m
}

// Len returns the number of tracers tasks are forwarded to.
func (m *MultiTracer) Len() int {
	return len(m.tracers)
}

// StartTask forwards the start of a task.
func (m *MultiTracer) StartTask(task Task) {
	for _, t := range m.tracers {
		t.StartTask(task)
	}
}

// StepTask forwards a milestone of a task.
func (m *MultiTracer) StepTask(task Task) {
	for _, t := range m.tracers {
		t.StepTask(task)
	}
}

// EndTask forwards the end of a task.
func (m *MultiTracer) EndTask(task Task) {
	for _, t := range m.tracers {
		t.EndTask(task)
	}
}

// CollectTrace attaches the tracer to the domain. Attaching the same tracer
// twice would count every task twice and panics.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	if tracer == nil {
		panic("tracer must not be nil")
	}

	for _, h := range domain.Hooks() {
		if th, ok := h.(traceHook); ok && th.tracer == tracer {
			panic(fmt.Sprintf("%s is already traced by %T",
				domain.Name(), tracer))
		}
	}

	domain.AcceptHook(traceHook{tracer: tracer})
}

type traceHook struct {
	tracer Tracer
}

func (h traceHook) Func(ctx sim.HookCtx) {
	task, ok := ctx.Item.(Task)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosTaskStart:
		h.tracer.StartTask(task)
	case HookPosTaskStep:
		h.tracer.StepTask(task)
	case HookPosTaskEnd:
		h.tracer.EndTask(task)
	}
}
