package tracing

import (
	"sync"

	"github.com/sarchlab/satalink/sim"
)

// Latency summarises the duration of a group of completed tasks.
type Latency struct {
	Count uint64
	Mean  sim.VTimeInSec
	Min   sim.VTimeInSec
	Max   sim.VTimeInSec
}

func (l *Latency) add(d sim.VTimeInSec) {
	if l.Count == 0 || d < l.Min {
		l.Min = d
	}

	if d > l.Max {
		l.Max = d
	}

	l.Mean += (d - l.Mean) / sim.VTimeInSec(l.Count+1)
	l.Count++
}

// AverageTimeTracer measures how long tasks take, such as the latency of read
// commands or of array transfers. Tasks are also grouped by kind and what.
type AverageTimeTracer struct {
	timeTeller sim.TimeTeller
	filter     TaskFilter

	lock     sync.Mutex
	inflight map[string]startedTask
	groups   map[string]*Latency
	overall  Latency
}

// NewAverageTimeTracer creates a new AverageTimeTracer. A nil filter accepts
// all tasks.
func NewAverageTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *AverageTimeTracer {
	if filter == nil {
		filter = func(Task) bool { return true }
	}

	return &AverageTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[string]startedTask),
		groups:     make(map[string]*Latency),
	}
}

// AverageTime returns the mean duration of the accepted tasks.
func (t *AverageTimeTracer) AverageTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.overall.Mean
}

// TotalCount returns the number of tasks that have completed.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.overall.Count
}

// InflightCount returns the number of accepted tasks not yet ended.
func (t *AverageTimeTracer) InflightCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.inflight)
}

// Overall returns the latency of every completed task.
func (t *AverageTimeTracer) Overall() Latency {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.overall
}

// Latency returns the latency of the completed tasks of one kind and what,
// for example kind "command" and what "read".
func (t *AverageTimeTracer) Latency(kind, what string) Latency {
	t.lock.Lock()
	defer t.lock.Unlock()

	if l, ok := t.groups[groupKey(kind, what)]; ok {
		return *l
	}

	return Latency{}
}

type startedTask struct {
	start sim.VTimeInSec
	group string
}

func groupKey(kind, what string) string {
	return kind + "/" + what
}

// StartTask records the start time of accepted tasks.
func (t *AverageTimeTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	started := startedTask{
		start: t.timeTeller.CurrentTime(),
		group: groupKey(task.Kind, task.What),
	}

	t.lock.Lock()
	t.inflight[task.ID] = started
	t.lock.Unlock()
}

// StepTask does nothing.
func (t *AverageTimeTracer) StepTask(_ Task) {}

// EndTask adds the duration of the task to its group.
func (t *AverageTimeTracer) EndTask(task Task) {
	now := t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	started, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	delete(t.inflight, task.ID)

	d := now - started.start
	t.overall.add(d)

	g, ok := t.groups[started.group]
	if !ok {
		g = &Latency{}
		t.groups[started.group] = g
	}

	g.add(d)
}
