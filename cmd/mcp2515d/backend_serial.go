package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cantools/mcp2515d/internal/bridge"
	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/hub"
	"github.com/cantools/mcp2515d/internal/mcp2515"
)

// openBridgePort is a hook for tests (overridden in unit tests).
var openBridgePort = bridge.Open

// initSerialBackend drives the controller through a UART register bridge.
// Interrupt notifications arrive as asynchronous bridge events, so no
// polling is needed.
func initSerialBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	sp, err := openBridgePort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, err
	}
	l.Info("bridge_open", "device", cfg.serialDev, "baud", cfg.baud)
	tr := bridge.NewTransport(sp, bridge.WithLogger(l))
	bus, err := setupBus(cfg, tr, h, l)
	if err != nil {
		_ = tr.Close()
		return nil, func() {}, err
	}
	w := mcp2515.NewTXWriter(ctx, bus, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("bridge_irq_end")
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-tr.Events():
				if !ok {
					return
				}
				if err := bus.HandleInterrupt(); err != nil {
					l.Warn("interrupt_error", "error", err)
				}
			}
		}
	}()
	return w.SendFrame, func() { _ = tr.Close(); w.Close() }, nil
}
