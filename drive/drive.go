// Package drive simulates a SATA device that serves queued commands over a
// link.
package drive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/satalink/command"
	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/link"
	"github.com/sarchlab/satalink/phy"
	"github.com/sarchlab/satalink/sim"
)

// Errors of a drive.
var (
	ErrKilled    = errors.New("drive: killed")
	ErrQueueFull = errors.New("drive: queue full")
)

// Link is the frame transport a drive serves. *link.Link implements it.
type Link interface {
	Send(ctx context.Context, f fis.FIS) error
	Receive(ctx context.Context) (fis.FIS, error)
}

// HookPosRequestServed is triggered when a command finishes, just before its
// completion is sent to the host. The item is the *Request.
var HookPosRequestServed = &sim.HookPos{Name: "Request Served"}

// A Request is a command accepted by the drive.
type Request struct {
	Tag     uint8
	Command command.Command
	Err     error
}

// Stats counts what a drive has served.
type Stats struct {
	Commands       uint64
	SectorsRead    uint64
	SectorsWritten uint64
	Failed         uint64
	LinkErrors     uint64
}

// Builder can build drives.
type Builder struct {
	link         Link
	sectors      uint64
	queueDepth   int
	serial       string
	model        string
	firmware     string
	acceptWindow time.Duration
	dataTimeout  time.Duration
	hooks        []sim.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		sectors:      1 << 20,
		queueDepth:   command.MaxTags,
		serial:       "SL0000000001",
		model:        "SATALINK SIMULATED DRIVE",
		firmware:     "1.0",
		acceptWindow: time.Millisecond,
		dataTimeout:  time.Second,
	}
}

// WithLink sets the link the drive serves.
func (b Builder) WithLink(l Link) Builder {
	b.link = l
	return b
}

// WithCapacity sets the number of sectors.
func (b Builder) WithCapacity(sectors uint64) Builder {
	b.sectors = sectors
	return b
}

// WithQueueDepth sets the number of queued commands the drive accepts.
func (b Builder) WithQueueDepth(n int) Builder {
	b.queueDepth = n
	return b
}

// WithSerial sets the serial number reported by IDENTIFY DEVICE.
func (b Builder) WithSerial(s string) Builder {
	b.serial = s
	return b
}

// WithModel sets the model reported by IDENTIFY DEVICE.
func (b Builder) WithModel(m string) Builder {
	b.model = m
	return b
}

// WithFirmware sets the firmware revision reported by IDENTIFY DEVICE.
func (b Builder) WithFirmware(f string) Builder {
	b.firmware = f
	return b
}

// WithAcceptWindow sets how long the drive listens for new commands between
// two queued commands.
func (b Builder) WithAcceptWindow(d time.Duration) Builder {
	b.acceptWindow = d
	return b
}

// WithDataTimeout bounds the wait for the write data of a command.
func (b Builder) WithDataTimeout(d time.Duration) Builder {
	b.dataTimeout = d
	return b
}

// WithHook registers a hook on the built drive.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks, h)
	return b
}

// Build creates a drive.
func (b Builder) Build(name string) *Drive {
	sim.NameMustBeValid(name)

	if b.link == nil {
		panic("drive needs a link")
	}

	if b.queueDepth <= 0 || b.queueDepth > command.MaxTags {
		panic(fmt.Sprintf("queue depth must be in [1, %d]", command.MaxTags))
	}

	d := &Drive{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		link:         b.link,
		storage:      NewStorage(b.sectors * command.SectorSize),
		identity: command.IdentifyData{
			Serial:     b.serial,
			Firmware:   b.firmware,
			Model:      b.model,
			Sectors:    b.sectors,
			QueueDepth: b.queueDepth,
			NCQ:        true,
			LBA48:      true,
		},
		queueDepth:   b.queueDepth,
		acceptWindow: b.acceptWindow,
		dataTimeout:  b.dataTimeout,
		mediaErrors:  make(map[uint64]bool),
		killed:       make(chan struct{}),
	}

	for _, h := range b.hooks {
		d.AcceptHook(h)
	}

	return d
}

// A Drive answers the commands that arrive on its link. Commands are served
// one at a time in arrival order.
type Drive struct {
	*sim.HookableBase

	name         string
	link         Link
	storage      *Storage
	identity     command.IdentifyData
	queueDepth   int
	acceptWindow time.Duration
	dataTimeout  time.Duration

	queue []*Request

	lock        sync.Mutex
	mediaErrors map[uint64]bool
	stats       Stats
	killOnce    sync.Once
	killed      chan struct{}
}

// Name returns the name of the drive.
func (d *Drive) Name() string {
	return d.name
}

// Storage returns the medium of the drive.
func (d *Drive) Storage() *Storage {
	return d.storage
}

// Identity returns the IDENTIFY DEVICE data of the drive.
func (d *Drive) Identity() command.IdentifyData {
	return d.identity
}

// InjectMediaError makes accesses to the sector fail with an uncorrectable
// error.
func (d *Drive) InjectMediaError(lba uint64) {
	d.lock.Lock()
	d.mediaErrors[lba] = true
	d.lock.Unlock()
}

// ClearMediaError removes an injected media error.
func (d *Drive) ClearMediaError(lba uint64) {
	d.lock.Lock()
	delete(d.mediaErrors, lba)
	d.lock.Unlock()
}

// Kill makes the drive stop answering. Run returns ErrKilled.
func (d *Drive) Kill() {
	d.killOnce.Do(func() { close(d.killed) })
}

// Stats returns a snapshot of the counters.
func (d *Drive) Stats() Stats {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.stats
}

// Run serves the link until the context ends, the drive is killed or the
// channel closes.
func (d *Drive) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.killed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		err := d.listen(ctx)

		select {
		case <-d.killed:
			return ErrKilled
		default:
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			return err
		}

		if len(d.queue) > 0 {
			req := d.queue[0]
			d.queue = d.queue[1:]
			d.serve(ctx, req)
		}
	}
}

// listen receives one FIS. With queued work it only waits for the accept
// window.
func (d *Drive) listen(ctx context.Context) error {
	rctx := ctx
	if len(d.queue) > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, d.acceptWindow)
		defer cancel()
	}

	f, err := d.link.Receive(rctx)

	switch {
	case err == nil:
		d.accept(ctx, f)
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, phy.ErrClosed):
		return fmt.Errorf("drive %s: %w", d.name, err)
	}

	d.lock.Lock()
	d.stats.LinkErrors++
	d.lock.Unlock()

	return nil
}

func (d *Drive) accept(ctx context.Context, f fis.FIS) {
	h2d, ok := f.(*fis.RegH2D)
	if !ok || !h2d.IsCommand {
		return
	}

	cmd, tag, err := command.Parse(h2d)
	if err != nil {
		d.sendStatus(ctx, command.ATAStatusDRDY|command.ATAStatusERR,
			command.ATAErrorABRT)
		return
	}

	req := &Request{Tag: tag, Command: cmd}

	switch cmd.Op {
	case command.OpRead, command.OpWrite:
		if len(d.queue) >= d.queueDepth {
			d.finish(ctx, req, ErrQueueFull, command.ATAErrorABRT)
			return
		}

		d.queue = append(d.queue, req)
	case command.OpIdentify:
		d.identify(ctx, req)
	case command.OpFlush:
		d.served(req)

		err := d.send(ctx, &fis.RegD2H{
			Interrupt: true,
			Status:    command.ATAStatusDRDY,
			Device:    command.ATADeviceLBA,
		})
		if err != nil {
			d.completionLost(req, err)
		}
	}
}

func (d *Drive) identify(ctx context.Context, req *Request) {
	page := d.identity.Encode()

	err := d.send(ctx, &fis.PIOSetup{
		DeviceToHost:  true,
		Interrupt:     true,
		Status:        command.ATAStatusDRDY | command.ATAStatusDRQ,
		EStatus:       command.ATAStatusDRDY,
		TransferCount: uint16(len(page)),
	})
	if err != nil {
		req.Err = err
		d.served(req)

		return
	}

	d.served(req)

	if err := d.sendData(ctx, page); err != nil {
		d.completionLost(req, err)
	}
}

func (d *Drive) serve(ctx context.Context, req *Request) {
	cmd := req.Command
	length := uint64(cmd.Sectors) * command.SectorSize
	address := cmd.LBA * command.SectorSize

	if address+length > d.storage.Capacity() {
		d.finish(ctx, req, ErrOutOfRange, command.ATAErrorIDNF)
		return
	}

	if bad, ok := d.mediaError(cmd.LBA, cmd.Sectors); ok {
		d.finish(ctx, req,
			fmt.Errorf("uncorrectable sector %d", bad), command.ATAErrorUNC)
		return
	}

	var err error
	if cmd.Op == command.OpRead {
		err = d.serveRead(ctx, req, address, length)
	} else {
		err = d.serveWrite(ctx, req, address, length)
	}

	if err != nil {
		d.finish(ctx, req, err, command.ATAErrorABRT)
		return
	}

	d.finish(ctx, req, nil, 0)
}

func (d *Drive) serveRead(ctx context.Context, req *Request, address, length uint64) error {
	data, err := d.storage.Read(address, length)
	if err != nil {
		return err
	}

	err = d.send(ctx, &fis.DMASetup{
		DeviceToHost:  true,
		BufferID:      uint64(req.Tag),
		TransferCount: uint32(length),
	})
	if err != nil {
		return err
	}

	if err := d.sendData(ctx, data); err != nil {
		return err
	}

	d.lock.Lock()
	d.stats.SectorsRead += uint64(req.Command.Sectors)
	d.lock.Unlock()

	return nil
}

func (d *Drive) serveWrite(ctx context.Context, req *Request, address, length uint64) error {
	err := d.send(ctx, &fis.DMASetup{
		BufferID:      uint64(req.Tag),
		TransferCount: uint32(length),
	})
	if err != nil {
		return err
	}

	data := make([]byte, 0, length)

	for uint64(len(data)) < length {
		if err := d.send(ctx, &fis.DMAActivate{}); err != nil {
			return err
		}

		chunk, err := d.receiveData(ctx)
		if err != nil {
			return err
		}

		n := min(uint64(len(chunk)), length-uint64(len(data)))
		data = append(data, chunk[:n]...)
	}

	if err := d.storage.Write(address, data); err != nil {
		return err
	}

	d.lock.Lock()
	d.stats.SectorsWritten += uint64(req.Command.Sectors)
	d.lock.Unlock()

	return nil
}

// receiveData waits for the next Data FIS. Commands that arrive meanwhile are
// queued.
func (d *Drive) receiveData(ctx context.Context) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, d.dataTimeout)
	defer cancel()

	for {
		f, err := d.link.Receive(dctx)
		if err != nil {
			return nil, err
		}

		if data, ok := f.(*fis.Data); ok {
			return data.PayloadBytes(), nil
		}

		d.accept(ctx, f)
	}
}

func (d *Drive) mediaError(lba uint64, sectors int) (uint64, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	for s := lba; s < lba+uint64(sectors); s++ {
		if d.mediaErrors[s] {
			return s, true
		}
	}

	return 0, false
}

// finish reports the end of a queued command with Set Device Bits.
func (d *Drive) finish(ctx context.Context, req *Request, err error, errReg uint8) {
	sdb := &fis.SetDevBits{
		Interrupt: true,
		Status:    command.ATAStatusDRDY,
		SActive:   1 << uint(req.Tag),
	}

	if err != nil {
		sdb.Status |= command.ATAStatusERR
		sdb.Error = errReg
		req.Err = err
	}

	d.served(req)

	if sendErr := d.send(ctx, sdb); sendErr != nil {
		d.completionLost(req, sendErr)
	}
}

func (d *Drive) sendStatus(ctx context.Context, status, errReg uint8) {
	_ = d.send(ctx, &fis.RegD2H{
		Interrupt: true,
		Status:    status,
		Error:     errReg,
		Device:    command.ATADeviceLBA,
	})
}

func (d *Drive) sendData(ctx context.Context, data []byte) error {
	for off := 0; off < len(data); off += fis.MaxDataPayload {
		end := min(off+fis.MaxDataPayload, len(data))

		f, err := fis.NewData(data[off:end])
		if err != nil {
			return err
		}

		if err := d.send(ctx, f); err != nil {
			return err
		}
	}

	return nil
}

// send transmits a FIS. A host that does not answer the request to send is
// busy elsewhere, so the drive keeps asking until the context ends. A
// rejected frame is sent again a few times.
func (d *Drive) send(ctx context.Context, f fis.FIS) error {
	rejections := 0

	for {
		err := d.link.Send(ctx, f)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var le *link.Error
		switch {
		case errors.As(err, &le) && le.Kind == link.ErrTimeout &&
			le.Phase == link.PhaseHandshake:
			continue
		case errors.Is(err, link.ErrRejected) && rejections < 3:
			rejections++
			continue
		}

		d.lock.Lock()
		d.stats.LinkErrors++
		d.lock.Unlock()

		return err
	}
}

// completionLost fails a served command whose completion did not reach the
// host.
func (d *Drive) completionLost(req *Request, err error) {
	if req.Err != nil {
		return
	}

	req.Err = err

	d.lock.Lock()
	d.stats.Failed++
	d.lock.Unlock()
}

func (d *Drive) served(req *Request) {
	d.lock.Lock()
	d.stats.Commands++
	if req.Err != nil {
		d.stats.Failed++
	}
	d.lock.Unlock()

	if d.NumHooks() == 0 {
		return
	}

	d.InvokeHook(sim.HookCtx{
		Domain: d,
		Pos:    HookPosRequestServed,
		Item:   req,
	})
}
