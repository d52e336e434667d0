package command

import (
	"fmt"
	"sync"

	"github.com/sarchlab/satalink/fis"
)

// Status is the lifecycle state of a descriptor.
type Status int

// Descriptor states. A descriptor moves from pending to in flight when its
// command is sent, and ends completed or failed.
const (
	StatusPending Status = iota
	StatusInFlight
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInFlight:
		return "InFlight"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// A Descriptor tracks one command on a tag. The layer owns it until the caller
// acknowledges it.
type Descriptor struct {
	ID      string
	Tag     uint8
	Command Command
	FIS     *fis.RegH2D

	payload []byte

	lock        sync.Mutex
	status      Status
	err         error
	transferred int
	done        chan struct{}
}

func newDescriptor(id string, tag uint8, cmd Command) *Descriptor {
	d := &Descriptor{
		ID:      id,
		Tag:     tag,
		Command: cmd,
		FIS:     cmd.FIS(tag),
		done:    make(chan struct{}),
	}

	if cmd.Op == OpWrite {
		d.payload = make([]byte, len(cmd.Buffer))
		copy(d.payload, cmd.Buffer)
	}

	return d
}

// Status returns the current state.
func (d *Descriptor) Status() Status {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.status
}

// Err returns the failure of a failed descriptor.
func (d *Descriptor) Err() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.err
}

// Done is closed when the descriptor completes or fails.
func (d *Descriptor) Done() <-chan struct{} {
	return d.done
}

// Transferred returns the number of data bytes moved so far.
func (d *Descriptor) Transferred() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.transferred
}

func (d *Descriptor) terminal() bool {
	s := d.Status()
	return s == StatusCompleted || s == StatusFailed
}

func (d *Descriptor) setInFlight() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.status != StatusPending {
		return false
	}

	d.status = StatusInFlight

	return true
}

func (d *Descriptor) addTransferred(n int) {
	d.lock.Lock()
	d.transferred += n
	d.lock.Unlock()
}

// finish moves the descriptor to a terminal state. It reports false if the
// descriptor was already terminal.
func (d *Descriptor) finish(err error) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.status == StatusCompleted || d.status == StatusFailed {
		return false
	}

	if err != nil {
		d.status = StatusFailed
		d.err = err
	} else {
		d.status = StatusCompleted
	}

	close(d.done)

	return true
}

// A Completion reports a descriptor that reached a terminal state.
type Completion struct {
	Tag        uint8
	Descriptor *Descriptor
	Err        error
}
