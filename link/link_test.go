package link

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/satalink/fis"
	"github.com/sarchlab/satalink/phy"
	"github.com/sarchlab/satalink/sim"
)

var _ = Describe("Link", func() {
	var (
		lb     *phy.Loopback
		host   *Link
		device *Link
		ctx    context.Context
	)

	build := func(p phy.Port, r Role, name string) *Link {
		return MakeBuilder().
			WithPort(p).
			WithRole(r).
			WithFrameTimeout(100 * time.Millisecond).
			Build(name)
	}

	BeforeEach(func() {
		lb = phy.MakeLoopbackBuilder().WithDepth(64).Build("Loopback")
		host = build(lb.HostPort(), RoleHost, "Host")
		device = build(lb.DevicePort(), RoleDevice, "Device")
		ctx = context.Background()
	})

	receiveAsync := func(l *Link) chan fis.FIS {
		ch := make(chan fis.FIS, 1)
		go func() {
			defer GinkgoRecover()
			f, err := l.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			ch <- f
		}()

		return ch
	}

	receiveErrAsync := func(l *Link) chan error {
		ch := make(chan error, 1)
		go func() {
			_, err := l.ReceiveFrame(ctx)
			ch <- err
		}()

		return ch
	}

	Context("round trip", func() {
		It("should deliver a command FIS unchanged", func() {
			sent := &fis.RegH2D{
				IsCommand: true, Command: 0x60, Features: 8,
				LBA: 0x1000, Device: 0x40, Count: 3 << 3,
			}
			got := receiveAsync(device)

			Expect(host.Send(ctx, sent)).To(Succeed())

			Eventually(got).Should(Receive(Equal(sent)))
		})

		It("should deliver frames in both directions", func() {
			got := receiveAsync(host)
			sent := &fis.SetDevBits{Interrupt: true, Status: 0x40, SActive: 1 << 5}

			Expect(device.Send(ctx, sent)).To(Succeed())

			Eventually(got).Should(Receive(Equal(sent)))
		})

		It("should deliver a full data FIS", func() {
			payload := make([]uint32, fis.MaxDataPayload/4)
			for i := range payload {
				payload[i] = uint32(i * 7)
			}
			sent := &fis.Data{Payload: payload}
			got := receiveAsync(device)

			Expect(host.Send(ctx, sent)).To(Succeed())

			Eventually(got).Should(Receive(Equal(sent)))
			Expect(host.Stats().FramesSent).To(Equal(uint64(1)))
			Expect(device.Stats().FramesReceived).To(Equal(uint64(1)))
			Expect(device.Stats().WordsReceived).To(Equal(uint64(len(payload) + 1)))
		})

		It("should drop ALIGN anywhere in the frame", func() {
			peer := rawPeer{port: lb.DevicePort()}
			done := make(chan []uint32, 1)
			go func() {
				defer GinkgoRecover()
				words, err := host.ReceiveFrame(ctx)
				Expect(err).NotTo(HaveOccurred())
				done <- words
			}()

			frame := scrambledFrame([]uint32{0x34, 0x50})
			peer.sendPrims(phy.ALIGN, phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.ALIGN, phy.SOF)
			peer.send(frame[0], phy.Prim(phy.ALIGN), frame[1], frame[2])
			peer.sendPrims(phy.ALIGN, phy.EOF, phy.WTRM)
			peer.expect(phy.ROK)

			Eventually(done).Should(Receive(Equal([]uint32{0x34, 0x50})))
		})
	})

	Context("errors", func() {
		It("should report a corrupted word as a CRC mismatch", func() {
			bad := &corruptingPort{Port: lb.HostPort(), target: 1, mask: 1 << 9}
			host = build(bad, RoleHost, "Host")
			errs := receiveErrAsync(device)

			err := host.SendFrame(ctx, []uint32{0x46, 1, 2, 3})

			Expect(errors.Is(err, ErrRejected)).To(BeTrue())
			var rxErr error
			Eventually(errs).Should(Receive(&rxErr))
			Expect(errors.Is(rxErr, ErrCRCMismatch)).To(BeTrue())
			Expect(device.Stats().ErrorCount(ErrCRCMismatch)).To(Equal(uint64(1)))
		})

		It("should report a corrupted CRC word as a CRC mismatch", func() {
			bad := &corruptingPort{Port: lb.HostPort(), target: 2, mask: 0x80000000}
			host = build(bad, RoleHost, "Host")
			errs := receiveErrAsync(device)

			Expect(host.SendFrame(ctx, []uint32{0x46, 1})).NotTo(Succeed())

			var rxErr error
			Eventually(errs).Should(Receive(&rxErr))
			Expect(KindOf(rxErr)).To(Equal(ErrCRCMismatch))
		})

		It("should report SYNC inside a frame as truncation", func() {
			peer := rawPeer{port: lb.HostPort()}
			errs := receiveErrAsync(device)

			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.SOF)
			peer.send(scrambledFrame([]uint32{0x27, 0})[:2]...)
			peer.sendPrims(phy.SYNC)

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, ErrTruncated)).To(BeTrue())
			peer.expect(phy.RERR)
		})

		It("should report a frame too short to hold a CRC as truncation", func() {
			peer := rawPeer{port: lb.HostPort()}
			errs := receiveErrAsync(device)

			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.SOF)
			peer.send(phy.Data(1))
			peer.sendPrims(phy.EOF, phy.WTRM)

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, ErrTruncated)).To(BeTrue())
		})

		It("should report a closed channel inside a frame as truncation", func() {
			peer := rawPeer{port: lb.HostPort()}
			errs := receiveErrAsync(device)

			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.SOF)
			peer.send(phy.Data(1))
			Expect(lb.Close()).To(Succeed())

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, ErrTruncated)).To(BeTrue())
		})

		It("should report a status primitive inside a frame", func() {
			peer := rawPeer{port: lb.HostPort()}
			errs := receiveErrAsync(device)

			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.SOF)
			peer.send(phy.Data(1))
			peer.sendPrims(phy.ROK)

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, ErrUnexpectedPrimitive)).To(BeTrue())

			var le *Error
			Expect(errors.As(err, &le)).To(BeTrue())
			Expect(le.Phase).To(Equal(PhaseData))
		})

		It("should report EOF before SOF", func() {
			peer := rawPeer{port: lb.HostPort()}
			errs := receiveErrAsync(device)

			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.EOF)

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, ErrUnexpectedPrimitive)).To(BeTrue())
		})

		It("should time out a stalled frame", func() {
			peer := rawPeer{port: lb.HostPort()}
			errs := receiveErrAsync(device)

			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.SOF)
			peer.send(phy.Data(1))

			var err error
			Eventually(errs, time.Second).Should(Receive(&err))
			Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
		})

		It("should time out when nobody answers X_RDY", func() {
			err := host.SendFrame(ctx, []uint32{0x27})

			Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
			var le *Error
			Expect(errors.As(err, &le)).To(BeTrue())
			Expect(le.Phase).To(Equal(PhaseHandshake))
		})

		It("should report R_ERR to the transmitter", func() {
			peer := rawPeer{port: lb.DevicePort()}
			errs := make(chan error, 1)
			go func() {
				errs <- host.SendFrame(ctx, []uint32{0x27, 0})
			}()

			peer.expect(phy.XRDY)
			peer.sendPrims(phy.RRDY)
			peer.collect(phy.WTRM)
			peer.sendPrims(phy.RERR)

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, ErrRejected)).To(BeTrue())
		})

		It("should refuse a second operation while busy", func() {
			host.busy.Store(true)

			Expect(host.SendFrame(ctx, []uint32{1})).To(MatchError(ErrBusy))
			_, err := host.ReceiveFrame(ctx)
			Expect(err).To(MatchError(ErrBusy))
		})

		It("should honour the context while idle", func() {
			cctx, cancel := context.WithCancel(ctx)
			errs := make(chan error, 1)
			go func() {
				_, err := device.ReceiveFrame(cctx)
				errs <- err
			}()

			cancel()

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})

		It("should return to idle after an error", func() {
			bad := &corruptingPort{Port: lb.HostPort(), target: 0, mask: 1}
			host = build(bad, RoleHost, "Host")
			errs := receiveErrAsync(device)
			Expect(host.SendFrame(ctx, []uint32{0x27, 0})).NotTo(Succeed())
			Eventually(errs).Should(Receive())

			got := receiveAsync(device)
			Expect(host.Send(ctx, &fis.DMAActivate{})).To(Succeed())

			Eventually(got).Should(Receive(Equal(&fis.DMAActivate{})))
		})
	})

	Context("flow control", func() {
		It("should acknowledge a transmitter HOLD without disturbing the frame", func() {
			peer := rawPeer{port: lb.HostPort()}
			done := make(chan []uint32, 1)
			go func() {
				defer GinkgoRecover()
				words, err := device.ReceiveFrame(ctx)
				Expect(err).NotTo(HaveOccurred())
				done <- words
			}()

			frame := scrambledFrame([]uint32{0x46, 0xAAAA5555, 0x12345678})
			peer.sendPrims(phy.XRDY)
			peer.expect(phy.RRDY)
			peer.sendPrims(phy.SOF)
			peer.send(frame[0], frame[1])
			peer.sendPrims(phy.HOLD, phy.HOLD, phy.HOLD)
			peer.expect(phy.HOLDA)
			peer.send(frame[2], frame[3])
			peer.sendPrims(phy.EOF, phy.WTRM)
			peer.expect(phy.ROK)

			Eventually(done).Should(Receive(Equal([]uint32{0x46, 0xAAAA5555, 0x12345678})))
		})

		It("should pause the transmitter when the receiver throttles", func() {
			pauses := 0
			device = MakeBuilder().
				WithPort(lb.DevicePort()).
				WithRole(RoleDevice).
				WithFrameTimeout(time.Second).
				WithThrottle(ThrottleFunc(func(i int) bool {
					if i == 3 || i == 100 {
						pauses++
						return true
					}
					return false
				})).
				Build("Device")

			payload := make([]uint32, 200)
			for i := range payload {
				payload[i] = uint32(i)
			}
			sent := &fis.Data{Payload: payload}
			got := receiveAsync(device)

			Expect(host.Send(ctx, sent)).To(Succeed())

			Eventually(got).Should(Receive(Equal(sent)))
			Expect(pauses).To(Equal(2))
		})

		It("should work through continuation coding", func() {
			host = build(phy.NewContPort(lb.HostPort()), RoleHost, "Host")
			device = build(phy.NewContPort(lb.DevicePort()), RoleDevice, "Device")
			sent := &fis.RegD2H{Status: 0x50, Interrupt: true}
			got := receiveAsync(host)

			Expect(device.Send(ctx, sent)).To(Succeed())

			Eventually(got).Should(Receive(Equal(sent)))
		})
	})

	Context("collision", func() {
		It("should let the device win and keep its frame for the host", func() {
			var wg sync.WaitGroup
			hostFrame := &fis.RegH2D{IsCommand: true, Command: 0xEC}
			devFrame := &fis.RegD2H{Status: 0x50}

			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(host.Send(ctx, hostFrame)).To(Succeed())
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(device.Send(ctx, devFrame)).To(Succeed())
				f, err := device.Receive(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(f).To(Equal(hostFrame))
			}()
			wg.Wait()

			f, err := host.Receive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(devFrame))
		})
	})

	Context("hooks", func() {
		It("should log frames and errors", func() {
			var buf bytes.Buffer
			logger := NewFrameLogger(log.New(&buf, "", 0), &sim.ManualClock{})
			host.AcceptHook(logger)
			device.AcceptHook(logger)
			got := receiveAsync(device)

			Expect(host.Send(ctx, &fis.DMAActivate{})).To(Succeed())
			Eventually(got).Should(Receive())

			Expect(buf.String()).To(ContainSubstring("Host,Link Frame Sent,DMAActivate,1"))
			Expect(buf.String()).To(ContainSubstring("Device,Link Frame Received,DMAActivate,1"))
		})
	})
})
