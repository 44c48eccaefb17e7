package mcp2515

import (
	"context"
	"errors"

	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/logging"
	"github.com/cantools/mcp2515d/internal/metrics"
	"github.com/cantools/mcp2515d/internal/transport"
)

// ErrTxOverflow means the async transmit queue is full.
var ErrTxOverflow = errors.New("mcp2515: tx queue overflow")

// TXWriter funnels all bus transmissions through one goroutine so TCP
// client readers never contend on the register lock directly.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a TXWriter over bus with a buffered queue of size buf.
func NewTXWriter(parent context.Context, bus *Bus, buf int) *TXWriter {
	send := func(fr can.Frame) error { return bus.WriteFrame(fr) }
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrBusWrite)
			logging.L().Warn("bus_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrBusOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous transmission (drops with
// ErrTxOverflow if the queue is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the worker goroutine to finish.
func (w *TXWriter) Close() { w.base.Close() }
