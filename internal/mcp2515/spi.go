package mcp2515

import "errors"

// SPI instruction set (MCP2515 data sheet, table 12-1).
const (
	instrWrite      = 0x02
	instrRead       = 0x03
	instrBitModify  = 0x05
	instrLoadTxBuf  = 0x40
	instrRTS        = 0x80
	instrReadRxBuf  = 0x90
	instrReadStatus = 0xA0
	instrReset      = 0xC0
)

// addrNone marks instructions that carry no register address.
const addrNone Addr = 0xFF

// Conn is one full-duplex SPI exchange: rx is filled with the bytes clocked
// in while tx is clocked out (chip select asserted for the whole exchange).
type Conn interface {
	Xfer(tx, rx []byte) error
}

// SPITransport implements Transport directly over an SPI connection.
// Not safe for concurrent use; the Bus serializes access.
type SPITransport struct {
	conn Conn
	buf  []byte
}

func NewSPITransport(c Conn) *SPITransport {
	return &SPITransport{conn: c, buf: make([]byte, 16)}
}

func (t *SPITransport) Reset() error {
	return t.runCmd(instrReset, addrNone, nil, 0)
}

func (t *SPITransport) Read(a Addr, buf []byte) error {
	if err := t.runCmd(instrRead, a, nil, len(buf)); err != nil {
		return err
	}
	copy(buf, t.buf[2:])
	return nil
}

func (t *SPITransport) Write(a Addr, data []byte) error {
	return t.runCmd(instrWrite, a, data, 0)
}

func (t *SPITransport) BitModify(a Addr, mask, value byte) error {
	return t.runCmd(instrBitModify, a, []byte{mask, value}, 0)
}

func (t *SPITransport) ReadStatus() (Status, error) {
	if err := t.runCmd(instrReadStatus, addrNone, nil, 1); err != nil {
		return 0, err
	}
	return Status(t.buf[1]), nil
}

func (t *SPITransport) ReadRxBuffer(n int, buf []byte) error {
	instr := uint8(instrReadRxBuf)
	if n == 1 {
		instr |= 1 << 2
	}
	if err := t.runCmd(instr, addrNone, nil, len(buf)); err != nil {
		return err
	}
	copy(buf, t.buf[1:])
	return nil
}

func (t *SPITransport) LoadTxBuffer(n int, data []byte) error {
	instr := uint8(instrLoadTxBuf) | uint8(n)<<1
	return t.runCmd(instr, addrNone, data, 0)
}

func (t *SPITransport) RequestToSend(n int) error {
	instr := uint8(instrRTS) | 1<<uint(n)
	return t.runCmd(instr, addrNone, nil, 0)
}

var errXferTooLong = errors.New("mcp2515: exchange does not fit into msg buffer")

// runCmd clocks out [instr, addr?, tx...] padded with zeros so that nrx
// response bytes come back; the response lands in t.buf after the header.
func (t *SPITransport) runCmd(instr uint8, a Addr, tx []byte, nrx int) error {
	b := t.buf
	b[0] = instr
	n := 1
	if a != addrNone {
		b[1] = uint8(a)
		n++
	}
	ntx := len(tx)
	if n+ntx > len(b) {
		return errXferTooLong
	}
	if ntx != 0 {
		copy(b[n:], tx)
	}
	n += ntx
	if pad := nrx - ntx; pad > 0 {
		if n+pad > len(b) {
			return errXferTooLong
		}
		for i := 0; i < pad; i++ {
			b[n+i] = 0
		}
		n += pad
	}
	b = b[:n]
	rx := b
	if nrx == 0 {
		rx = nil
	}
	return t.conn.Xfer(b, rx)
}
