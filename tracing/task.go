package tracing

import "github.com/sarchlab/satalink/sim"

// A TaskStep is a milestone reached while a task is processed.
type TaskStep struct {
	Time sim.VTimeInSec `json:"time"`
	What string         `json:"what"`
}

// A Task is a piece of work a component performs, such as a command on a
// link or a stripe transfer of an array.
type Task struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id"`
	Kind      string         `json:"kind"`
	What      string         `json:"what"`
	Location  string         `json:"location"`
	StartTime sim.VTimeInSec `json:"start_time"`
	EndTime   sim.VTimeInSec `json:"end_time"`
	Steps     []TaskStep     `json:"steps"`
	Detail    interface{}    `json:"-"`
}

// A TaskFilter selects the tasks a tracer keeps.
type TaskFilter func(t Task) bool

// Duration returns how long the task took. It is zero for tasks that have not
// ended.
func (t Task) Duration() sim.VTimeInSec {
	if t.EndTime < t.StartTime {
		return 0
	}

	return t.EndTime - t.StartTime
}
