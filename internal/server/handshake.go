package server

import (
	"context"
	"net"

	"github.com/cantools/mcp2515d/internal/wire"
)

// handshake runs the required TCP hello exchange.
func (s *Server) handshake(ctx context.Context, c net.Conn) error {
	return wire.Handshake(ctx, c, s.handshakeTimeout)
}
