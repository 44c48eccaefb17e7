// Package bridge talks to a UART-attached register bridge: a small adapter
// board that forwards MCP2515 SPI instructions received over the serial
// line and pushes an unsolicited event frame whenever the controller's
// interrupt line asserts. It implements the mcp2515.Transport contract.
package bridge

import (
	"bytes"

	"github.com/cantools/mcp2515d/internal/metrics"
)

// Wire framing: [0x5A, TYPE, LN, payload..., checksum] where LN counts the
// payload bytes plus the trailing checksum, and
// checksum = 0x5A + TYPE + LN + sum(payload) (mod 256).
const (
	preamble = 0x5A

	typCommand  = 0xC1 // host -> bridge: tunnelled SPI instruction
	typResponse = 0xC2 // bridge -> host: status byte + register data
	typEvent    = 0xC3 // bridge -> host: interrupt line asserted

	// LN bounds: smallest frame is an event (1 payload byte + checksum);
	// largest is a register write command (instr + addr + 13 data bytes)
	// plus checksum.
	minLn = 1 + 1
	maxLn = 2 + 13 + 1
)

// Tunnelled instruction opcodes (the controller's SPI instruction set).
const (
	opWrite      = 0x02
	opRead       = 0x03
	opBitModify  = 0x05
	opLoadTxBuf  = 0x40
	opRTS        = 0x80
	opReadRxBuf  = 0x90
	opReadStatus = 0xA0
	opReset      = 0xC0
)

// Response status codes.
const (
	stOK = 0x00
)

// appendFrame appends the wire encoding of one frame to dst.
func appendFrame(dst []byte, typ byte, payload []byte) []byte {
	ln := byte(len(payload) + 1)
	sum := byte(preamble) + typ + ln
	dst = append(dst, preamble, typ, ln)
	for _, b := range payload {
		sum += b
	}
	dst = append(dst, payload...)
	return append(dst, sum)
}

// CompactBuffer reclaims consumed prefix capacity when the accumulation
// buffer grows too large relative to unread bytes. Thresholds chosen to
// avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// decodeStream consumes complete frames from in and emits each via out.
// Garbage between frames is skipped one byte at a time until a preamble
// with a valid type, length and checksum lines up again; partial frames
// are left buffered for the next read. The payload slice passed to out
// aliases the buffer and must be copied if retained.
func decodeStream(in *bytes.Buffer, out func(typ byte, payload []byte)) {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 3 { // need preamble + type + len
			return
		}

		// align to preamble
		i := bytes.IndexByte(data, preamble)
		if i < 0 {
			in.Reset()
			return
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		typ := data[1]
		switch typ {
		case typCommand, typResponse, typEvent:
		default:
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := 3 + ln // preamble + type + len + (payload + checksum)
		if len(data) < req {
			return
		}

		sum := byte(preamble) + typ + data[2]
		for _, b := range data[3 : req-1] {
			sum += b
		}
		if sum != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		out(typ, data[3:req-1])
		in.Next(req)
	}
}
