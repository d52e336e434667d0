package link

import (
	"log"

	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/sim"
)

// FrameLogger is a hook that logs one line per frame event of a link.
type FrameLogger struct {
	sim.LogHookBase
}

// NewFrameLogger returns a FrameLogger that writes into the logger.
func NewFrameLogger(logger *log.Logger, timeTeller sim.TimeTeller) *FrameLogger {
	return &FrameLogger{LogHookBase: sim.NewLogHookBase(logger, timeTeller)}
}

// Func writes the frame event into the logger.
func (h *FrameLogger) Func(ctx sim.HookCtx) {
	l, ok := ctx.Domain.(*Link)
	if !ok {
		return
	}

	switch item := ctx.Item.(type) {
	case []uint32:
		h.Record(l.Name(), ctx.Pos.Name, frameType(item), len(item))
	case *Error:
		h.Record(l.Name(), ctx.Pos.Name, item.Kind, item.Phase, item.Detail)
	}
}

func frameType(words []uint32) string {
	if len(words) == 0 {
		return "empty"
	}

	return fis.Type(words[0] & 0xFF).String()
}
