package mcp2515

import (
	"fmt"

	"github.com/cantools/mcp2515d/internal/can"
)

// A transmit or receive buffer image: SIDH SIDL EID8 EID0 DLC D0..D7.
const frameBufLen = 13

// DLC register bit marking a remote frame.
const dlcRTR byte = 1 << 6

// encodeID writes the identifier registers (SIDH..EID0) for id.
func encodeID(dst []byte, id uint32, extended bool) {
	if extended {
		dst[0] = byte(id >> 21)
		dst[1] = byte((id>>13)&(7<<5)) | EXIDE | byte((id>>16)&3)
		dst[2] = byte(id >> 8)
		dst[3] = byte(id)
		return
	}
	dst[0] = byte(id >> 3)
	dst[1] = byte(id << 5)
	dst[2] = 0
	dst[3] = 0
}

// decodeID reconstructs the identifier and its width tag from SIDH..EID0.
func decodeID(buf []byte) (id uint32, extended bool) {
	if buf[1]&EXIDE != 0 {
		id = uint32(buf[0])<<21 |
			uint32(buf[1]&(7<<5))<<13 |
			uint32(buf[1]&3)<<16 |
			uint32(buf[2])<<8 |
			uint32(buf[3])
		return id, true
	}
	id = uint32(buf[0])<<3 | uint32(buf[1])>>5
	return id, false
}

// EncodeFrame renders f as a transmit buffer image. The identifier must fit
// its declared width; the payload length is clamped to the chip maximum of 8.
func EncodeFrame(f can.Frame) ([]byte, error) {
	max := uint32(can.MaxStdID)
	if f.Extended {
		max = can.MaxExtID
	}
	if f.ID > max {
		return nil, fmt.Errorf("encode frame id 0x%X: %w", f.ID, can.ErrInvalidID)
	}
	ln := f.Len
	if ln > 8 {
		ln = 8
	}
	buf := make([]byte, frameBufLen)
	encodeID(buf, f.ID, f.Extended)
	buf[4] = ln
	if f.RTR {
		buf[4] |= dlcRTR
	}
	copy(buf[5:], f.Data[:ln])
	return buf, nil
}

// DecodeFrame reconstructs a frame from a receive buffer image. It is total
// over well-formed register content: decode(encode(f)) == f for any valid f.
func DecodeFrame(buf []byte) can.Frame {
	var f can.Frame
	f.ID, f.Extended = decodeID(buf)
	f.RTR = buf[4]&dlcRTR != 0
	f.Len = buf[4] & 0x0F
	if f.Len > 8 {
		f.Len = 8
	}
	copy(f.Data[:], buf[5:5+f.Len])
	return f
}
