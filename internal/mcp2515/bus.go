package mcp2515

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/logging"
	"github.com/cantools/mcp2515d/internal/metrics"
)

// BusError is a snapshot of the controller's error state taken when an
// error interrupt fires. It is not retained by the bus.
type BusError struct {
	Flags    byte // EFLG register image
	TxErrors uint8
	RxErrors uint8
}

// BusOff reports whether the transmitter has gone bus-off.
func (e BusError) BusOff() bool { return e.Flags&EflgTXBO != 0 }

// Passive reports whether either error counter crossed the passive limit.
func (e BusError) Passive() bool { return e.Flags&(EflgTXEP|EflgRXEP) != 0 }

// Overrun reports whether a receive buffer overflowed.
func (e BusError) Overrun() bool { return e.Flags&(EflgRX0OVR|EflgRX1OVR) != 0 }

func (e BusError) String() string {
	return fmt.Sprintf("eflg=0x%02X tec=%d rec=%d", e.Flags, e.TxErrors, e.RxErrors)
}

// Hardware filter slot register addresses, indexed by bank slot.
var rxfSIDH = [BankCapacity]Addr{RegRXF0SIDH, RegRXF1SIDH, RegRXF2SIDH, RegRXF3SIDH, RegRXF4SIDH}

// Bus is the public-facing CAN bus controller. It owns the frame codec,
// the acceptance filter bank and the register transport.
//
// Two execution contexts touch the controller: foreground callers
// (WriteFrame, ReadFrame, filter mutation) and the interrupt-notification
// path (HandleInterrupt). mu guards every compound register sequence so the
// two never interleave mid-exchange; event dispatch runs outside mu with
// the frame fully decoded beforehand.
type Bus struct {
	mu   sync.Mutex
	tr   Transport
	bank *Bank
	rate Bitrate

	lmu     sync.RWMutex
	onFrame []func(can.Frame)
	onError []func(BusError)

	logger *slog.Logger
}

type Option func(*Bus)

// WithLogger overrides the global logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Bus over the given register transport. The chip is not
// touched until SetBitrate initializes it.
func New(tr Transport, opts ...Option) *Bus {
	b := &Bus{
		tr:     tr,
		logger: logging.L(),
	}
	b.bank = NewBank(nil)
	for _, o := range opts {
		o(b)
	}
	return b
}

// resetDelay is the post-reset settle time before register writes.
const resetDelay = 10 * time.Millisecond

// SetBitrate resets the controller and brings it back up at the requested
// rate: bit timing, receive buffer rollover, filter re-commit, interrupt
// enables, normal operation mode. Synchronous; blocks on register writes.
func (b *Bus) SetBitrate(rate Bitrate) error {
	cnf, err := cnfFor(rate)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.tr.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	time.Sleep(resetDelay)
	if err := b.tr.Write(RegCNF3, cnf[:]); err != nil {
		return fmt.Errorf("bit timing: %w", err)
	}
	// Filters on, with rollover: if RXB0 is full the next frame lands in RXB1.
	if err := b.tr.BitModify(RegRXB0CTRL, RXMMask|BUKT, BUKT); err != nil {
		return fmt.Errorf("rxb0 ctrl: %w", err)
	}
	if err := b.tr.BitModify(RegRXB1CTRL, RXMMask, 0); err != nil {
		return fmt.Errorf("rxb1 ctrl: %w", err)
	}
	// Re-commit filter state lost by the reset.
	if err := b.commitMaskLocked(); err != nil {
		return err
	}
	for _, fs := range b.bank.FilterSlots() {
		if err := b.commitFilterLocked(fs.Filter, fs.Slot); err != nil {
			return err
		}
	}
	enable := IntRX0 | IntRX1 | IntERR
	if err := b.tr.BitModify(RegCANINTE, enable, enable); err != nil {
		return fmt.Errorf("interrupt enable: %w", err)
	}
	if err := b.tr.BitModify(RegCANCTRL, REQOPMask, REQOPNormal); err != nil {
		return fmt.Errorf("normal mode: %w", err)
	}
	b.rate = rate
	b.logger.Info("bus_up", "bitrate", uint32(rate))
	return nil
}

// Bitrate returns the rate last applied by SetBitrate.
func (b *Bus) Bitrate() Bitrate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// WriteFrame encodes f into the first transmit buffer and requests
// transmission. It does not wait for bus arbitration to complete; ErrTxBusy
// means the buffer still holds an earlier frame.
func (b *Bus) WriteFrame(f can.Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var ctrl [1]byte
	if err := b.tr.Read(RegTXB0CTRL, ctrl[:]); err != nil {
		return fmt.Errorf("txb0 ctrl read: %w", err)
	}
	if ctrl[0]&TXREQ != 0 {
		return ErrTxBusy
	}
	if err := b.tr.LoadTxBuffer(0, buf); err != nil {
		return fmt.Errorf("load tx buffer: %w", err)
	}
	if err := b.tr.RequestToSend(0); err != nil {
		return fmt.Errorf("request to send: %w", err)
	}
	metrics.IncBusTx()
	return nil
}

// FrameAvailable polls the controller status; true if either receive buffer
// holds an unread frame.
func (b *Bus) FrameAvailable() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.tr.ReadStatus()
	if err != nil {
		return false, err
	}
	return st.FramePending(), nil
}

// ReadFrame polls the receive buffers and returns the next pending frame,
// preferring buffer 0 over buffer 1 when both are pending. The second
// result is false when no frame was available. Reading a buffer clears its
// pending flag.
func (b *Bus) ReadFrame() (can.Frame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.tr.ReadStatus()
	if err != nil {
		return can.Frame{}, false, err
	}
	idx := -1
	switch {
	case st.Rx0Pending():
		idx = 0
	case st.Rx1Pending():
		idx = 1
	default:
		return can.Frame{}, false, nil
	}
	fr, err := b.readBufferLocked(idx)
	if err != nil {
		return can.Frame{}, false, err
	}
	return fr, true, nil
}

// ClearReceiveBuffers drains both receive buffers unconditionally,
// discarding any pending frames, and clears their interrupt flags. Used to
// resynchronize after error recovery.
func (b *Bus) ClearReceiveBuffers() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var scratch [frameBufLen]byte
	for i := 0; i < 2; i++ {
		if err := b.tr.ReadRxBuffer(i, scratch[:]); err != nil {
			return fmt.Errorf("drain rx%d: %w", i, err)
		}
	}
	if err := b.tr.BitModify(RegCANINTF, IntRX0|IntRX1, 0); err != nil {
		return fmt.Errorf("clear rx flags: %w", err)
	}
	return nil
}

// readBufferLocked pulls and decodes one receive buffer. Caller holds mu.
func (b *Bus) readBufferLocked(idx int) (can.Frame, error) {
	var buf [frameBufLen]byte
	if err := b.tr.ReadRxBuffer(idx, buf[:]); err != nil {
		return can.Frame{}, fmt.Errorf("read rx%d: %w", idx, err)
	}
	metrics.IncBusRx()
	return DecodeFrame(buf[:]), nil
}

// AddFilter inserts f into the acceptance filter bank and pushes the
// resulting mask/filter register writes. Returns the hardware slot index.
func (b *Bus) AddFilter(f Filter) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, err := b.bank.Add(f)
	if err != nil {
		return 0, err
	}
	metrics.SetActiveFilters(b.bank.Len())
	if !f.Committed() {
		// Range filters carry no register commitment yet; the hardware will
		// not reject frames outside the range.
		b.logger.Warn("filter_not_committed", "filter", f.String(), "slot", slot)
		return slot, nil
	}
	if err := b.commitMaskLocked(); err != nil {
		return slot, err
	}
	if err := b.commitFilterLocked(f, slot); err != nil {
		return slot, err
	}
	b.logger.Info("filter_added", "filter", f.String(), "slot", slot, "mask", fmt.Sprintf("0x%X", b.bank.Mask()))
	return slot, nil
}

// RemoveFilter deletes f from the bank, zeroes its vacated hardware slot
// and pushes the updated mask. It reports whether the filter was present.
// Co-resident filters keep their own slots and register commitments. The
// shared mask is cleared, not recomputed, when a StandardExact filter
// leaves: co-resident filters lose matching precision until re-added.
func (b *Bus) RemoveFilter(f Filter) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, ok := b.bank.Remove(f)
	if !ok {
		return false, nil
	}
	metrics.SetActiveFilters(b.bank.Len())
	if !f.Committed() {
		return true, nil
	}
	var zero [4]byte
	if err := b.tr.Write(rxfSIDH[slot], zero[:]); err != nil {
		return true, fmt.Errorf("clear filter %d: %w", slot, err)
	}
	if err := b.commitMaskLocked(); err != nil {
		return true, err
	}
	b.logger.Info("filter_removed", "filter", f.String(), "slot", slot, "mask", fmt.Sprintf("0x%X", b.bank.Mask()))
	return true, nil
}

// Filters returns a snapshot of the resident acceptance filters.
func (b *Bus) Filters() []Filter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bank.Filters()
}

// AcceptanceMask returns the current shared mask value.
func (b *Bus) AcceptanceMask() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bank.Mask()
}

// commitMaskLocked writes the bank's shared mask into RXM0, using the
// register layout of the resident filter kinds so the mask bits line up
// with the filter targets. Caller holds mu.
func (b *Bus) commitMaskLocked() error {
	var regs [4]byte
	encodeID(regs[:], b.bank.Mask(), b.bank.MaskExtended())
	if err := b.tr.Write(RegRXM0SIDH, regs[:]); err != nil {
		return fmt.Errorf("write mask: %w", err)
	}
	return nil
}

// commitFilterLocked writes a filter's target identifier into its hardware
// slot. Caller holds mu.
func (b *Bus) commitFilterLocked(f Filter, slot int) error {
	if !f.Committed() {
		return nil
	}
	if slot < 0 || slot >= BankCapacity {
		return fmt.Errorf("filter slot %d out of range", slot)
	}
	var regs [4]byte
	encodeID(regs[:], f.ID, f.Extended())
	if err := b.tr.Write(rxfSIDH[slot], regs[:]); err != nil {
		return fmt.Errorf("write filter %d: %w", slot, err)
	}
	return nil
}

// OnFrameReceived registers a listener for frames pulled off the chip by
// the interrupt path. Listeners run synchronously at dispatch time in
// registration order, outside the register-access lock.
func (b *Bus) OnFrameReceived(fn func(can.Frame)) {
	if fn == nil {
		return
	}
	b.lmu.Lock()
	b.onFrame = append(b.onFrame, fn)
	b.lmu.Unlock()
}

// OnBusError registers a listener for bus-error events.
func (b *Bus) OnBusError(fn func(BusError)) {
	if fn == nil {
		return
	}
	b.lmu.Lock()
	b.onError = append(b.onError, fn)
	b.lmu.Unlock()
}

// HandleInterrupt classifies one interrupt-line transition and dispatches
// the matching event:
//
//   - receive-buffer cause with a FrameReceived listener registered: the
//     pending frames are decoded (buffer 0 first) and dispatched; with no
//     listener the frames stay queued for the next ReadFrame poll;
//   - error cause: EFLG and both error counters are read and the error
//     flags cleared so the line does not re-trigger for the same condition;
//     the snapshot is dispatched to BusError listeners if any are registered;
//   - any other cause is logged and ignored.
func (b *Bus) HandleInterrupt() error {
	b.mu.Lock()
	var intf [1]byte
	if err := b.tr.Read(RegCANINTF, intf[:]); err != nil {
		b.mu.Unlock()
		metrics.IncError(metrics.ErrInterrupt)
		return fmt.Errorf("read canintf: %w", err)
	}
	cause := intf[0]

	switch {
	case cause&(IntRX0|IntRX1) != 0:
		if cause&IntRX0 != 0 {
			metrics.IncInterrupt(metrics.CauseRx0)
		}
		if cause&IntRX1 != 0 {
			metrics.IncInterrupt(metrics.CauseRx1)
		}
		b.lmu.RLock()
		listeners := b.onFrame
		b.lmu.RUnlock()
		if len(listeners) == 0 {
			// No listener: leave the frames queued for ReadFrame polling.
			b.mu.Unlock()
			return nil
		}
		// Decode every pending buffer before releasing the lock so the
		// register content cannot change under the dispatched frames.
		var frames []can.Frame
		for idx, bit := range []byte{IntRX0, IntRX1} {
			if cause&bit == 0 {
				continue
			}
			fr, err := b.readBufferLocked(idx)
			if err != nil {
				b.mu.Unlock()
				metrics.IncError(metrics.ErrBusRead)
				return err
			}
			frames = append(frames, fr)
		}
		b.mu.Unlock()
		for _, fr := range frames {
			for _, fn := range listeners {
				fn(fr)
			}
		}
		return nil

	case cause&IntERR != 0:
		metrics.IncInterrupt(metrics.CauseError)
		var regs [1]byte
		var ev BusError
		if err := b.tr.Read(RegEFLG, regs[:]); err != nil {
			b.mu.Unlock()
			metrics.IncError(metrics.ErrInterrupt)
			return fmt.Errorf("read eflg: %w", err)
		}
		ev.Flags = regs[0]
		if err := b.tr.Read(RegTEC, regs[:]); err != nil {
			b.mu.Unlock()
			metrics.IncError(metrics.ErrInterrupt)
			return fmt.Errorf("read tec: %w", err)
		}
		ev.TxErrors = regs[0]
		if err := b.tr.Read(RegREC, regs[:]); err != nil {
			b.mu.Unlock()
			metrics.IncError(metrics.ErrInterrupt)
			return fmt.Errorf("read rec: %w", err)
		}
		ev.RxErrors = regs[0]
		if err := b.tr.BitModify(RegCANINTF, IntERR|IntMER, 0); err != nil {
			b.mu.Unlock()
			metrics.IncError(metrics.ErrInterrupt)
			return fmt.Errorf("clear error flags: %w", err)
		}
		b.mu.Unlock()
		metrics.IncBusError()
		b.lmu.RLock()
		listeners := b.onError
		b.lmu.RUnlock()
		if len(listeners) == 0 {
			b.logger.Debug("bus_error_unobserved", "state", ev.String())
			return nil
		}
		for _, fn := range listeners {
			fn(ev)
		}
		return nil

	case cause != 0:
		metrics.IncInterrupt(metrics.CauseOther)
		b.logger.Debug("interrupt_ignored", "canintf", fmt.Sprintf("0x%02X", cause))
		b.mu.Unlock()
		return nil

	default:
		b.mu.Unlock()
		return nil
	}
}
