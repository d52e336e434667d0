package command

import (
	"log"

	"github.com/sarchlab/satalink/sim"
)

// CommandLogger is a hook that logs the start and the end of each command.
type CommandLogger struct {
	sim.LogHookBase
}

// NewCommandLogger returns a CommandLogger that writes into the logger.
func NewCommandLogger(logger *log.Logger, timeTeller sim.TimeTeller) *CommandLogger {
	return &CommandLogger{LogHookBase: sim.NewLogHookBase(logger, timeTeller)}
}

// Func writes the command event into the logger.
func (h *CommandLogger) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosCommandStart && ctx.Pos != HookPosCommandComplete {
		return
	}

	d, ok := ctx.Item.(*Descriptor)
	if !ok {
		return
	}

	name := ""
	if named, ok := ctx.Domain.(sim.Named); ok {
		name = named.Name()
	}

	h.Record(name, ctx.Pos.Name, d.ID, d.Tag, d.Command.Op,
		d.Command.LBA, d.Command.Sectors, d.Status(), d.Err())
}
