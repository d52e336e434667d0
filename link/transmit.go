package link

import (
	"context"
	"errors"

	"github.com/sarchlab/satalink/phy"
)

func (l *Link) transmit(ctx context.Context, words []uint32) error {
	if err := l.acquireChannel(ctx); err != nil {
		return err
	}

	fctx, cancel := l.frameContext()
	defer cancel()

	err := l.transmitFrame(fctx, words)
	if err != nil {
		_ = l.abort()
		return err
	}

	return l.sendPrim(fctx, phy.SYNC)
}

// acquireChannel raises X_RDY until the peer answers R_RDY. A host that sees
// the device raising X_RDY backs off, receives the device frame, keeps it for
// the next Receive, and tries again.
func (l *Link) acquireChannel(ctx context.Context) error {
	for {
		hctx, cancel := context.WithTimeout(ctx, l.frameTimeout)
		backedOff, err := l.requestToSend(hctx)
		cancel()

		if err != nil {
			_ = l.abort()

			if ctx.Err() != nil {
				return ctx.Err()
			}

			return classify(err, PhaseHandshake, "R_RDY")
		}

		if !backedOff {
			return nil
		}

		if !l.pending.CanPush() {
			return ErrBusy
		}

		words, err := l.receiveAfterRequest()
		l.pending.Push(pendingFrame{words: words, err: err})
	}
}

// requestToSend sends X_RDY and waits for R_RDY. It reports true when the
// link must back off because the peer wants to transmit.
func (l *Link) requestToSend(ctx context.Context) (bool, error) {
	if err := l.sendPrim(ctx, phy.XRDY); err != nil {
		return false, err
	}

	for {
		w, err := l.recv(ctx)
		if err != nil {
			return false, err
		}

		switch {
		case w.Is(phy.RRDY):
			return false, nil
		case w.Is(phy.XRDY) && l.role == RoleHost:
			return true, nil
		}
	}
}

func (l *Link) transmitFrame(ctx context.Context, words []uint32) error {
	if err := l.sendPrim(ctx, phy.SOF); err != nil {
		return classify(err, PhaseData, "SOF")
	}

	l.txScrambler.Reset()
	l.txCRC.Reset()

	for _, w := range words {
		if err := l.serviceReceiver(ctx); err != nil {
			return err
		}

		l.txCRC.Update(w)
		if err := l.port.Send(ctx, phy.Data(l.txScrambler.Whiten(w))); err != nil {
			return classify(err, PhaseData, "data")
		}
	}

	if err := l.serviceReceiver(ctx); err != nil {
		return err
	}

	sum := l.txCRC.Sum()
	if err := l.port.Send(ctx, phy.Data(l.txScrambler.Whiten(sum))); err != nil {
		return classify(err, PhaseData, "CRC")
	}

	if err := l.sendPrim(ctx, phy.EOF); err != nil {
		return classify(err, PhaseData, "EOF")
	}

	if err := l.sendPrim(ctx, phy.WTRM); err != nil {
		return classify(err, PhaseTermination, "WTRM")
	}

	return l.awaitStatus(ctx)
}

// serviceReceiver handles what the receiver sent while data was flowing.
func (l *Link) serviceReceiver(ctx context.Context) error {
	for {
		w, ok, err := l.tryRecv()
		if err != nil {
			return classify(err, PhaseData, "receiver")
		}

		if !ok {
			return nil
		}

		switch {
		case w.Is(phy.HOLD):
			if err := l.holdForReceiver(ctx); err != nil {
				return err
			}
		case w.Is(phy.RERR):
			return newError(ErrRejected, PhaseData, "receiver aborted the frame")
		}
	}
}

// holdForReceiver answers HOLDA and waits until the receiver resumes with
// R_IP.
func (l *Link) holdForReceiver(ctx context.Context) error {
	if err := l.sendPrim(ctx, phy.HOLDA); err != nil {
		return classify(err, PhaseData, "HOLDA")
	}

	for {
		w, err := l.recv(ctx)
		if err != nil {
			return classify(err, PhaseData, "R_IP")
		}

		switch {
		case w.Is(phy.RIP):
			return nil
		case w.Is(phy.RERR):
			return newError(ErrRejected, PhaseData, "receiver aborted the frame")
		}
	}
}

func (l *Link) awaitStatus(ctx context.Context) error {
	for {
		w, err := l.recv(ctx)
		if err != nil {
			return classify(err, PhaseTermination, "R_OK")
		}

		switch {
		case w.Is(phy.ROK):
			return nil
		case w.Is(phy.RERR):
			return newError(ErrRejected, PhaseTermination, "receiver answered R_ERR")
		case w.Is(phy.HOLD):
			if err := l.sendPrim(ctx, phy.HOLDA); err != nil {
				return classify(err, PhaseTermination, "HOLDA")
			}
		}
	}
}

// abort returns the channel to idle after a failed frame.
func (l *Link) abort() error {
	ctx, cancel := l.frameContext()
	defer cancel()

	err := l.sendPrim(ctx, phy.SYNC)
	if errors.Is(err, phy.ErrClosed) {
		return nil
	}

	return err
}
