// Package phy models the physical layer as a full-duplex channel of words.
package phy

import (
	"context"
	"errors"

	"github.com/sarchlab/satalink/sim"
)

// ErrClosed is returned when a port is used after the channel is closed.
var ErrClosed = errors.New("phy: channel closed")

// A Port is one end of a full-duplex word channel. Words arrive in the order
// they were sent.
type Port interface {
	sim.Named

	// Send blocks until the word is accepted by the channel.
	Send(ctx context.Context, w Word) error

	// Recv blocks until a word arrives.
	Recv(ctx context.Context) (Word, error)

	// TryRecv returns a word if one is ready. The second result is false when
	// nothing is pending.
	TryRecv() (Word, bool, error)

	// Close tears the channel down. Pending words can still be received by
	// the peer, after which it sees ErrClosed.
	Close() error
}
