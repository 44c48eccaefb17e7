//go:build linux

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/hub"
	"github.com/cantools/mcp2515d/internal/mcp2515"
	"github.com/cantools/mcp2515d/internal/spidev"
)

// openSPIDevice is a hook for tests (overridden in unit tests).
var openSPIDevice = func(path string, speedHz uint32) (mcp2515.Conn, error) {
	return spidev.Open(path, speedHz)
}

// initSPIBackend drives the controller over spidev directly. Without an
// interrupt line the status register is polled at cfg.spiPoll.
func initSPIBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	dev, err := openSPIDevice(cfg.spiDev, uint32(cfg.spiSpeedHz))
	if err != nil {
		return nil, func() {}, err
	}
	l.Info("spi_open", "device", cfg.spiDev, "speed_hz", cfg.spiSpeedHz)
	tr := mcp2515.NewSPITransport(dev)
	bus, err := setupBus(cfg, tr, h, l)
	if err != nil {
		closeConn(dev)
		return nil, func() {}, err
	}
	w := mcp2515.NewTXWriter(ctx, bus, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("spi_poll_end")
		tick := time.NewTicker(cfg.spiPoll)
		defer tick.Stop()
		backoff := pollBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			if err := bus.HandleInterrupt(); err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				l.Warn("spi_poll_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > pollBackoffMax {
					backoff = pollBackoffMax
				}
				continue
			}
			backoff = pollBackoffMin
		}
	}()
	return w.SendFrame, func() { closeConn(dev); w.Close() }, nil
}

func closeConn(c mcp2515.Conn) {
	if cl, ok := c.(interface{ Close() error }); ok {
		_ = cl.Close()
	}
}
