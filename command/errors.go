package command

import (
	"errors"
	"fmt"
)

// Errors of the command layer.
var (
	ErrTagInUse    = errors.New("command: tag in use")
	ErrInvalidTag  = errors.New("command: invalid tag")
	ErrQueueBusy   = errors.New("command: queued and non-queued commands cannot be mixed")
	ErrCancelled   = errors.New("command: cancelled")
	ErrTimeout     = errors.New("command: timeout")
	ErrUnknownTag  = errors.New("command: no descriptor for tag")
	ErrNotTerminal = errors.New("command: descriptor still outstanding")
	ErrNoFreeTag   = errors.New("command: no free tag")
	ErrBadBuffer   = errors.New("command: bad buffer")
	ErrUnsupported = errors.New("command: unsupported command")
	ErrProtocol    = errors.New("command: protocol violation")
	ErrDevice      = errors.New("command: device error")
)

// DeviceError is an error reported by the device in its status register.
type DeviceError struct {
	Status uint8
	ErrReg uint8
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("command: device error, status 0x%02X error 0x%02X",
		e.Status, e.ErrReg)
}

// Is matches ErrDevice.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
