package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/hub"
	"github.com/cantools/mcp2515d/internal/mcp2515"
)

// initBackend selects the controller transport, starts its interrupt loop
// and returns a frame sender and cleanup.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	switch cfg.transport {
	case "serial":
		return initSerialBackend(ctx, cfg, h, l, wg)
	case "spi":
		return initSPIBackend(ctx, cfg, h, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown transport %q (use serial|spi)", cfg.transport)
	}
}

// setupBus brings the controller from reset to normal mode: bitrate,
// configured acceptance filters, and event fan-out into the hub.
func setupBus(cfg *appConfig, tr mcp2515.Transport, h *hub.Hub, l *slog.Logger) (*mcp2515.Bus, error) {
	bus := mcp2515.New(tr, mcp2515.WithLogger(l))
	if err := bus.SetBitrate(mcp2515.Bitrate(cfg.bitrate)); err != nil {
		return nil, fmt.Errorf("set bitrate: %w", err)
	}
	filters, err := parseFilters(cfg.filterSpecs)
	if err != nil {
		return nil, err
	}
	for _, f := range filters {
		if _, err := bus.AddFilter(f); err != nil {
			return nil, fmt.Errorf("add filter %s: %w", f, err)
		}
	}
	bus.OnFrameReceived(func(fr can.Frame) { h.Broadcast(fr) })
	bus.OnBusError(func(ev mcp2515.BusError) {
		l.Warn("bus_error", "state", ev.String(),
			"tec", ev.TxErrors, "rec", ev.RxErrors)
		if ev.Overrun() {
			if err := bus.ClearReceiveBuffers(); err != nil {
				l.Warn("rx_drain_error", "error", err)
			}
		}
	})
	return bus, nil
}
