package link

import (
	"context"
	"errors"

	"github.com/sarchlab/satalink/phy"
)

func (l *Link) receive(ctx context.Context) ([]uint32, error) {
	for {
		if err := l.awaitRequest(ctx); err != nil {
			return nil, err
		}

		words, err := l.receiveAfterRequest()
		if errors.Is(err, errAbandoned) {
			continue
		}

		return words, err
	}
}

// errAbandoned reports that the transmitter gave up before SOF.
var errAbandoned = errors.New("transmitter abandoned the frame")

// awaitRequest waits for X_RDY. Everything else on the wire is left over from
// earlier frames and is dropped.
func (l *Link) awaitRequest(ctx context.Context) error {
	for {
		w, err := l.port.Recv(ctx)
		if err != nil {
			return err
		}

		if w.Is(phy.XRDY) {
			return nil
		}
	}
}

// receiveAfterRequest runs a frame reception once X_RDY has been seen.
func (l *Link) receiveAfterRequest() ([]uint32, error) {
	fctx, cancel := l.frameContext()
	defer cancel()

	l.held.Clear()

	words, err := l.receiveFrame(fctx)
	if err != nil && !errors.Is(err, errAbandoned) {
		l.reject()
	}

	l.held.Clear()

	return words, err
}

func (l *Link) receiveFrame(ctx context.Context) ([]uint32, error) {
	if err := l.sendPrim(ctx, phy.RRDY); err != nil {
		return nil, classify(err, PhaseHandshake, "R_RDY")
	}

	if err := l.awaitSOF(ctx); err != nil {
		return nil, err
	}

	if err := l.sendPrim(ctx, phy.RIP); err != nil {
		return nil, classify(err, PhaseData, "R_IP")
	}

	words, err := l.receiveData(ctx)
	if err != nil {
		return nil, err
	}

	if len(words) < 2 {
		return nil, newError(ErrTruncated, PhaseData,
			"EOF after %d data words", len(words))
	}

	if l.rxCRC.Sum() != 0 {
		return nil, newError(ErrCRCMismatch, PhaseData,
			"residue 0x%08X over %d words", l.rxCRC.Sum(), len(words))
	}

	if err := l.sendPrim(ctx, phy.ROK); err != nil {
		return nil, classify(err, PhaseTermination, "R_OK")
	}

	return words[:len(words)-1], nil
}

func (l *Link) awaitSOF(ctx context.Context) error {
	for {
		w, err := l.recv(ctx)
		if err != nil {
			return classify(err, PhaseHandshake, "SOF")
		}

		switch {
		case w.Is(phy.SOF):
			return nil
		case w.Is(phy.SYNC):
			return errAbandoned
		case w.Is(phy.EOF), w.Is(phy.WTRM):
			return newError(ErrUnexpectedPrimitive, PhaseHandshake,
				"%v before SOF", w)
		}
	}
}

// receiveData collects descrambled words until EOF. The CRC engine runs over
// every word including the CRC itself, so a good frame leaves a zero residue.
func (l *Link) receiveData(ctx context.Context) ([]uint32, error) {
	l.rxScrambler.Reset()
	l.rxCRC.Reset()

	var (
		words       []uint32
		peerHolding bool
		pausedAt    = -1
	)

	for {
		if l.throttle != nil && pausedAt != len(words) &&
			l.throttle.Pause(len(words)) {
			pausedAt = len(words)
			if err := l.holdTransmitter(ctx); err != nil {
				return nil, err
			}
		}

		w, err := l.recv(ctx)
		if err != nil {
			return nil, classify(err, PhaseData, "EOF")
		}

		if !w.Primitive {
			peerHolding = false
			v := l.rxScrambler.Whiten(w.Value)
			l.rxCRC.Update(v)
			words = append(words, v)

			continue
		}

		p, _ := w.AsPrimitive()
		switch p {
		case phy.EOF:
			return words, nil
		case phy.HOLD:
			if !peerHolding {
				peerHolding = true
				if err := l.sendPrim(ctx, phy.HOLDA); err != nil {
					return nil, classify(err, PhaseData, "HOLDA")
				}
			}
		case phy.HOLDA, phy.CONT:
		case phy.SYNC, phy.WTRM:
			return nil, newError(ErrTruncated, PhaseData,
				"%v after %d data words", p, len(words))
		default:
			return nil, newError(ErrUnexpectedPrimitive, PhaseData,
				"%v after %d data words", p, len(words))
		}
	}
}

// holdTransmitter sends HOLD and waits for HOLDA. Words still in flight are
// kept and processed after the transmitter is released with R_IP.
func (l *Link) holdTransmitter(ctx context.Context) error {
	if err := l.sendPrim(ctx, phy.HOLD); err != nil {
		return classify(err, PhaseData, "HOLD")
	}

	for {
		w, err := l.port.Recv(ctx)
		if err != nil {
			return classify(err, PhaseData, "HOLDA")
		}

		if w.Is(phy.HOLDA) {
			break
		}

		if !l.held.CanPush() {
			return newError(ErrTimeout, PhaseData, "no HOLDA after %d words",
				l.held.Size())
		}

		l.held.Push(w)
	}

	return l.sendPrim(ctx, phy.RIP)
}

// reject answers R_ERR so that the transmitter terminates the failed frame.
func (l *Link) reject() {
	ctx, cancel := l.frameContext()
	defer cancel()

	_ = l.sendPrim(ctx, phy.RERR)
}
