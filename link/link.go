// Package link implements the link layer state machine that frames and
// deframes FIS over a physical port.
//
// A frame on the wire is
//
//	X_RDY ... R_RDY, SOF, scrambled words, scrambled CRC, EOF, WTRM ... R_OK
//
// where the dots are the peer's answers. Either side may pause the data phase
// with HOLD, which the other side acknowledges with HOLDA. HOLD and HOLDA never
// advance the scrambler or the CRC.
package link

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sarchlab/satalink/crc"
	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/phy"
	"github.com/sarchlab/satalink/scrambler"
	"github.com/sarchlab/satalink/sim"
)

const holdBufferCapacity = 4096

// Role tells which end of the channel a link sits on. When both ends want to
// transmit at the same time, the device wins.
type Role int

// Roles.
const (
	RoleHost Role = iota
	RoleDevice
)

func (r Role) String() string {
	if r == RoleDevice {
		return "device"
	}

	return "host"
}

// A Throttle lets a receiver pause the incoming frame. Pause is asked before
// each data word with the number of words received so far. Returning true
// makes the receiver hold the transmitter once at that position.
type Throttle interface {
	Pause(index int) bool
}

// ThrottleFunc adapts a function into a Throttle.
type ThrottleFunc func(index int) bool

// Pause calls f.
func (f ThrottleFunc) Pause(index int) bool {
	return f(index)
}

// HookPosFrameSent marks a frame accepted by the peer. The item is the frame
// words without the CRC.
var HookPosFrameSent = &sim.HookPos{Name: "Link Frame Sent"}

// HookPosFrameReceived marks a frame delivered to the caller. The item is the
// frame words without the CRC.
var HookPosFrameReceived = &sim.HookPos{Name: "Link Frame Received"}

// HookPosLinkError marks a failed frame. The item is the *Error.
var HookPosLinkError = &sim.HookPos{Name: "Link Error"}

// A Link runs the link layer protocol on one end of a channel. It handles one
// operation at a time.
type Link struct {
	sim.HookableBase

	name         string
	port         phy.Port
	role         Role
	frameTimeout time.Duration
	throttle     Throttle
	busy         atomic.Bool

	txScrambler *scrambler.Scrambler
	rxScrambler *scrambler.Scrambler
	txCRC       *crc.Engine
	rxCRC       *crc.Engine

	// Frames received while backing off from a collision.
	pending sim.Buffer

	// Words that arrived while the receiver was waiting for HOLDA.
	held sim.Buffer

	stats statistics
}

type pendingFrame struct {
	words []uint32
	err   error
}

// Name returns the name of the link.
func (l *Link) Name() string {
	return l.name
}

// Role returns the role of the link.
func (l *Link) Role() Role {
	return l.role
}

// Port returns the physical port of the link.
func (l *Link) Port() phy.Port {
	return l.port
}

// Send encodes the FIS and transmits it as one frame.
func (l *Link) Send(ctx context.Context, f fis.FIS) error {
	words, err := fis.Encode(f)
	if err != nil {
		return err
	}

	return l.SendFrame(ctx, words)
}

// Receive waits for a frame and decodes it.
func (l *Link) Receive(ctx context.Context) (fis.FIS, error) {
	words, err := l.ReceiveFrame(ctx)
	if err != nil {
		return nil, err
	}

	return fis.Decode(words)
}

// SendFrame transmits the words as one frame. The context bounds the wait for
// the peer to accept the frame; once the frame has started only the frame
// timeout applies.
func (l *Link) SendFrame(ctx context.Context, words []uint32) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.busy.Store(false)

	if len(words) == 0 {
		return fis.ErrEmpty
	}

	err := l.transmit(ctx, words)
	if err != nil {
		l.reportError(err)
		return err
	}

	l.stats.frameSent(len(words))
	l.invoke(HookPosFrameSent, words, nil)

	return nil
}

// ReceiveFrame waits for a frame and returns its words without the CRC. The
// context bounds the wait for the frame to start.
func (l *Link) ReceiveFrame(ctx context.Context) ([]uint32, error) {
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer l.busy.Store(false)

	var (
		words []uint32
		err   error
	)

	if l.pending.Size() > 0 {
		p := l.pending.Pop().(pendingFrame)
		words, err = p.words, p.err
	} else {
		words, err = l.receive(ctx)
	}

	if err != nil {
		l.reportError(err)
		return nil, err
	}

	l.stats.frameReceived(len(words))
	l.invoke(HookPosFrameReceived, words, nil)

	return words, nil
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}

func (l *Link) reportError(err error) {
	var le *Error
	if !errors.As(err, &le) {
		return
	}

	l.stats.frameFailed(le.Kind)
	l.invoke(HookPosLinkError, le, nil)
}

func (l *Link) invoke(pos *sim.HookPos, item, detail interface{}) {
	if l.NumHooks() == 0 {
		return
	}

	l.InvokeHook(sim.HookCtx{
		Domain: l,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

func (l *Link) frameContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), l.frameTimeout)
}

func (l *Link) sendPrim(ctx context.Context, p phy.Primitive) error {
	return l.port.Send(ctx, phy.Prim(p))
}

// recv returns the next word that is not ALIGN. Words held back during a
// receiver pause are returned first.
func (l *Link) recv(ctx context.Context) (phy.Word, error) {
	for {
		var (
			w   phy.Word
			err error
		)

		if l.held.Size() > 0 {
			w = l.held.Pop().(phy.Word)
		} else {
			w, err = l.port.Recv(ctx)
			if err != nil {
				return w, err
			}
		}

		if w.Is(phy.ALIGN) {
			continue
		}

		return w, nil
	}
}

// tryRecv is recv without blocking.
func (l *Link) tryRecv() (phy.Word, bool, error) {
	for {
		w, ok, err := l.port.TryRecv()
		if !ok || err != nil {
			return w, ok, err
		}

		if w.Is(phy.ALIGN) {
			continue
		}

		return w, true, nil
	}
}

// classify turns an error from the port during a frame into a link error.
func classify(err error, phase Phase, what string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrTimeout, phase, "waiting for %s", what)
	case errors.Is(err, phy.ErrClosed):
		return newError(ErrTruncated, phase, "channel closed waiting for %s", what)
	}

	return err
}
