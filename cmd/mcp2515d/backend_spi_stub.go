//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/hub"
)

// Placeholder so non-linux builds compile; spidev not supported.
func initSPIBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	return nil, func() {}, fmt.Errorf("spi transport unsupported on this platform")
}
