package phy

import (
	"context"
	"sync"

	"github.com/sarchlab/satalink/scrambler"
)

// ContPort wraps a Port with continuation coding. On transmit, runs of a
// repeated primitive are shortened: the second copy passes, the third is
// replaced by CONT, and further copies become scrambled filler data. On
// receive, CONT and the filler that follows it are expanded back into the
// last primitive seen, so the reader observes the original run.
type ContPort struct {
	Port

	txLock   sync.Mutex
	last     Word
	haveLast bool
	run      int
	filler   *scrambler.Scrambler

	rxLock   sync.Mutex
	inCont   bool
	lastPrim Word
}

// NewContPort wraps the port with continuation coding.
func NewContPort(p Port) *ContPort {
	return &ContPort{
		Port:     p,
		filler:   scrambler.New(),
		lastPrim: Prim(SYNC),
	}
}

// Send encodes the word and forwards it.
func (c *ContPort) Send(ctx context.Context, w Word) error {
	c.txLock.Lock()
	defer c.txLock.Unlock()

	repeated := w.Primitive && c.haveLast && w == c.last
	if repeated {
		switch c.run {
		case 0:
			c.run = 1
			return c.Port.Send(ctx, w)
		case 1:
			c.run = 2
			return c.Port.Send(ctx, Prim(CONT))
		default:
			return c.Port.Send(ctx, Data(c.filler.Next()))
		}
	}

	if c.run == 2 && c.last.Primitive {
		if err := c.Port.Send(ctx, c.last); err != nil {
			return err
		}
	}

	c.run = 0
	c.last = w
	c.haveLast = true

	return c.Port.Send(ctx, w)
}

// Recv receives a word and decodes it.
func (c *ContPort) Recv(ctx context.Context) (Word, error) {
	w, err := c.Port.Recv(ctx)
	if err != nil {
		return w, err
	}

	return c.decode(w), nil
}

// TryRecv receives a pending word, if any, and decodes it.
func (c *ContPort) TryRecv() (Word, bool, error) {
	w, ok, err := c.Port.TryRecv()
	if !ok || err != nil {
		return w, ok, err
	}

	return c.decode(w), true, nil
}

func (c *ContPort) decode(w Word) Word {
	c.rxLock.Lock()
	defer c.rxLock.Unlock()

	switch {
	case w.Is(CONT):
		c.inCont = true
		return c.lastPrim
	case !w.Primitive:
		if c.inCont {
			return c.lastPrim
		}

		return w
	default:
		c.inCont = false
		c.lastPrim = w

		return w
	}
}
