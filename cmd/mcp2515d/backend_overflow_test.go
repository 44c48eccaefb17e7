package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cantools/mcp2515d/internal/bridge"
	"github.com/cantools/mcp2515d/internal/can"
	"github.com/cantools/mcp2515d/internal/hub"
	"github.com/cantools/mcp2515d/internal/mcp2515"
	"github.com/cantools/mcp2515d/internal/metrics"
)

// TestSerialBackendTxOverflow fills the async TX queue while the bridge
// stops answering, forcing enqueue drops.
func TestSerialBackendTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fb := newFakeBridge()
	openBridgePort = func(name string, baud int, to time.Duration) (bridge.Port, error) { return fb, nil }
	defer func() { openBridgePort = bridge.Open }()
	beforeErrs := metrics.Snap().Errors

	h := hub.New()
	cfg := validConfig()
	var wg sync.WaitGroup
	send, cleanup, err := initSerialBackend(ctx, cfg, h, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	defer cleanup()

	// Bus is up; now the bridge goes silent so every transmit stalls on the
	// command timeout and the queue backs up.
	fb.mu.Lock()
	fb.stall = true
	fb.mu.Unlock()

	var overflowErr error
	for i := 0; i < txQueueSize+2; i++ {
		fr := can.Frame{ID: uint32(i) & 0x7FF}
		err := send(fr)
		if err != nil && overflowErr == nil {
			overflowErr = err
		}
	}
	if overflowErr == nil {
		t.Fatalf("expected at least one overflow error")
	}
	if !errors.Is(overflowErr, mcp2515.ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", overflowErr)
	}
	afterErrs := metrics.Snap().Errors
	if afterErrs == beforeErrs {
		t.Fatalf("expected error metric increment on overflow")
	}
}
