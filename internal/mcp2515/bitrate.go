package mcp2515

import "errors"

// Bitrate is a nominal CAN bus bitrate in bit/s.
type Bitrate uint32

const (
	Bitrate125K Bitrate = 125_000
	Bitrate250K Bitrate = 250_000
	Bitrate500K Bitrate = 500_000
	Bitrate1M   Bitrate = 1_000_000
)

// ErrUnsupportedBitrate means no bit-timing entry exists for the rate.
var ErrUnsupportedBitrate = errors.New("mcp2515: unsupported bitrate")

// Bit-timing register values for a 16 MHz oscillator, stored in ascending
// register order CNF3, CNF2, CNF1 so they can be written in one burst
// starting at RegCNF3. The 125k/250k rates reuse the 500k segment layout
// (16 TQ per bit) with a scaled prescaler.
var cnfByRate = map[Bitrate][3]byte{
	Bitrate125K: {0x01, 0xB5, 0x03},
	Bitrate250K: {0x01, 0xB5, 0x01},
	Bitrate500K: {0x01, 0xB5, 0x00},
	Bitrate1M:   {0x01, 0x91, 0x40},
}

// cnfFor returns the CNF3..CNF1 burst for rate.
func cnfFor(rate Bitrate) ([3]byte, error) {
	cnf, ok := cnfByRate[rate]
	if !ok {
		return [3]byte{}, ErrUnsupportedBitrate
	}
	return cnf, nil
}
