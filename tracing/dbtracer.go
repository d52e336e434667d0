package tracing

import (
	"sync"

	"github.com/sarchlab/satalink/datarecording"
	"github.com/sarchlab/satalink/sim"
	"github.com/tebeka/atexit"
)

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	Steps     int
}

// DBTracer stores completed tasks into a data recorder.
type DBTracer struct {
	lock       sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder
	tableName  string

	tracingTasks map[string]Task
	written      uint64
}

// NewDBTracer creates a new DBTracer that writes into the given table.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
	tableName string,
) *DBTracer {
	if tableName == "" {
		tableName = "trace"
	}

	dataRecorder.CreateTable(tableName, taskTableEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tableName:    tableName,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() { t.Terminate() })

	return t
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	startingTaskMustBeValid(task)

	task.StartTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	t.tracingTasks[task.ID] = task
	t.lock.Unlock()
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Location == "" {
		panic("task location must be set")
	}
}

// StepTask counts the steps of an in-flight task.
func (t *DBTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	for _, s := range task.Steps {
		s.Time = t.timeTeller.CurrentTime()
		original.Steps = append(original.Steps, s)
	}

	t.tracingTasks[task.ID] = original
}

// EndTask writes the task into the data recorder.
func (t *DBTracer) EndTask(task Task) {
	endTime := t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	t.backend.InsertData(t.tableName, taskTableEntry{
		ID:        original.ID,
		ParentID:  original.ParentID,
		Kind:      original.Kind,
		What:      original.What,
		Location:  original.Location,
		StartTime: float64(original.StartTime),
		EndTime:   float64(endTime),
		Steps:     len(original.Steps),
	})
	t.written++
}

// Written returns the number of tasks handed to the recorder.
func (t *DBTracer) Written() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.written
}

// Terminate drops unfinished tasks and flushes the recorder.
func (t *DBTracer) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.tracingTasks = make(map[string]Task)
	t.backend.Flush()
}
