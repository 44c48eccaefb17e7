package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cantools/mcp2515d/internal/logging"
	"github.com/cantools/mcp2515d/internal/mcp2515"
	"github.com/cantools/mcp2515d/internal/metrics"
)

var (
	// ErrTimeout means the bridge did not answer a command in time.
	ErrTimeout = errors.New("bridge: response timeout")
	// ErrRemote means the bridge rejected or failed the tunnelled instruction.
	ErrRemote = errors.New("bridge: remote error")
	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("bridge: closed")
)

const (
	readBufSize = 4096
	// largeBufferReclaimThreshold is the accumulator capacity above which
	// the buffer is reallocated once fully drained, so bursts of line noise
	// do not pin large backing arrays.
	largeBufferReclaimThreshold = 16 * 1024
	eventQueueSize              = 64
	defaultCmdTimeout           = 250 * time.Millisecond
	readBackoffMin              = 20 * time.Millisecond
	readBackoffMax              = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Transport drives the register bridge over a serial port. Commands are
// strictly one-in-flight (cmdMu); the reader goroutine demultiplexes
// response frames to the waiting command and interrupt event frames to the
// Events channel.
type Transport struct {
	cmdMu   sync.Mutex
	port    Port
	timeout time.Duration
	resp    chan []byte
	events  chan byte
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// Compile-time check against the controller's transport contract.
var _ mcp2515.Transport = (*Transport)(nil)

type Option func(*Transport)

// WithTimeout overrides the per-command response timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger overrides the global logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport wraps an open port and starts the reader goroutine.
func NewTransport(port Port, opts ...Option) *Transport {
	t := &Transport{
		port:    port,
		timeout: defaultCmdTimeout,
		resp:    make(chan []byte, 1),
		events:  make(chan byte, eventQueueSize),
		done:    make(chan struct{}),
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(t)
	}
	t.wg.Add(1)
	go t.readLoop()
	return t
}

// Events delivers one byte (the bridge's cause hint) per interrupt-line
// assertion. The channel is buffered; events are dropped with a metric tick
// if the consumer falls behind.
func (t *Transport) Events() <-chan byte { return t.events }

// Close stops the reader and closes the underlying port.
func (t *Transport) Close() error {
	select {
	case <-t.done:
		return nil
	default:
	}
	close(t.done)
	err := t.port.Close()
	t.wg.Wait()
	return err
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	defer t.logger.Info("bridge_rx_end")
	buf := make([]byte, readBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := readBackoffMin
	for {
		select {
		case <-t.done:
			return
		default:
		}
		n, err := t.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			decodeStream(acc, t.dispatch)
			if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
			backoff = readBackoffMin
		}
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout / transient EOF
			}
			metrics.IncError(metrics.ErrBridgeRead)
			t.logger.Warn("bridge_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > readBackoffMax {
				backoff = readBackoffMax
			}
		}
	}
}

func (t *Transport) dispatch(typ byte, payload []byte) {
	switch typ {
	case typResponse:
		cp := make([]byte, len(payload))
		copy(cp, payload)
		select {
		case t.resp <- cp:
		default:
			// Nobody waiting: stale or unsolicited response.
			metrics.IncMalformed()
		}
	case typEvent:
		var cause byte
		if len(payload) > 0 {
			cause = payload[0]
		}
		select {
		case t.events <- cause:
		default:
			metrics.IncError(metrics.ErrBridgeRead)
			t.logger.Warn("bridge_event_dropped", "cause", cause)
		}
	default:
		// Command frames are host->bridge only; echoed ones are noise.
		metrics.IncMalformed()
	}
}

// exec tunnels one instruction and waits for its response, returning the
// nrx data bytes that follow the status byte.
func (t *Transport) exec(payload []byte, nrx int) ([]byte, error) {
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()
	select {
	case <-t.done:
		return nil, ErrClosed
	default:
	}
	// Drop any stale response left over from a timed-out command.
	select {
	case <-t.resp:
	default:
	}
	frame := appendFrame(nil, typCommand, payload)
	if _, err := t.port.Write(frame); err != nil {
		metrics.IncError(metrics.ErrBridgeWrite)
		return nil, fmt.Errorf("bridge write: %w", err)
	}
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case rp := <-t.resp:
		if len(rp) < 1 {
			return nil, fmt.Errorf("%w: empty response", ErrRemote)
		}
		if rp[0] != stOK {
			return nil, fmt.Errorf("%w: status 0x%02X", ErrRemote, rp[0])
		}
		if len(rp)-1 < nrx {
			return nil, fmt.Errorf("%w: short response (%d < %d)", ErrRemote, len(rp)-1, nrx)
		}
		return rp[1 : 1+nrx], nil
	case <-timer.C:
		metrics.IncError(metrics.ErrBridgeTimeout)
		return nil, ErrTimeout
	case <-t.done:
		return nil, ErrClosed
	}
}

func (t *Transport) Reset() error {
	_, err := t.exec([]byte{opReset}, 0)
	return err
}

func (t *Transport) Read(a mcp2515.Addr, buf []byte) error {
	data, err := t.exec([]byte{opRead, byte(a), byte(len(buf))}, len(buf))
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

func (t *Transport) Write(a mcp2515.Addr, data []byte) error {
	payload := make([]byte, 0, 2+len(data))
	payload = append(payload, opWrite, byte(a))
	payload = append(payload, data...)
	_, err := t.exec(payload, 0)
	return err
}

func (t *Transport) BitModify(a mcp2515.Addr, mask, value byte) error {
	_, err := t.exec([]byte{opBitModify, byte(a), mask, value}, 0)
	return err
}

func (t *Transport) ReadStatus() (mcp2515.Status, error) {
	data, err := t.exec([]byte{opReadStatus}, 1)
	if err != nil {
		return 0, err
	}
	return mcp2515.Status(data[0]), nil
}

func (t *Transport) ReadRxBuffer(n int, buf []byte) error {
	instr := byte(opReadRxBuf)
	if n == 1 {
		instr |= 1 << 2
	}
	data, err := t.exec([]byte{instr, byte(len(buf))}, len(buf))
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

func (t *Transport) LoadTxBuffer(n int, data []byte) error {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, byte(opLoadTxBuf)|byte(n)<<1)
	payload = append(payload, data...)
	_, err := t.exec(payload, 0)
	return err
}

func (t *Transport) RequestToSend(n int) error {
	_, err := t.exec([]byte{byte(opRTS) | 1<<uint(n)}, 0)
	return err
}
