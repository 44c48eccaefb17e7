// Package mcp2515 drives an MCP2515-class register-oriented CAN controller:
// frame encode/decode against the chip's buffer layout, acceptance filter
// management over the shared mask/filter register bank, and interrupt-cause
// classification with frame-received / bus-error event dispatch.
package mcp2515

import "errors"

// Addr is a register address in the controller's register file.
type Addr uint8

// Register map (MCP2515 data sheet, table 11-1).
const (
	RegRXF0SIDH Addr = 0x00
	RegRXF1SIDH Addr = 0x04
	RegRXF2SIDH Addr = 0x08
	RegRXF3SIDH Addr = 0x10
	RegRXF4SIDH Addr = 0x14
	RegRXF5SIDH Addr = 0x18

	RegTEC Addr = 0x1C
	RegREC Addr = 0x1D

	RegRXM0SIDH Addr = 0x20
	RegRXM1SIDH Addr = 0x24

	RegCNF3    Addr = 0x28
	RegCNF2    Addr = 0x29
	RegCNF1    Addr = 0x2A
	RegCANINTE Addr = 0x2B
	RegCANINTF Addr = 0x2C
	RegEFLG    Addr = 0x2D
	RegCANCTRL Addr = 0x2F

	RegTXB0CTRL Addr = 0x30
	RegTXB0SIDH Addr = 0x31

	RegRXB0CTRL Addr = 0x60
	RegRXB1CTRL Addr = 0x70
)

// CANINTF / CANINTE bits. The enable register uses the same positions.
const (
	IntRX0 byte = 1 << 0
	IntRX1 byte = 1 << 1
	IntTX0 byte = 1 << 2
	IntERR byte = 1 << 5
	IntWAK byte = 1 << 6
	IntMER byte = 1 << 7
)

// CANCTRL bits.
const (
	REQOPMask   byte = 7 << 5
	REQOPNormal byte = 0 << 5
	REQOPConfig byte = 4 << 5
)

// RXBnCTRL bits.
const (
	RXMMask byte = 3 << 5 // receive mode (filtering off when both set)
	BUKT    byte = 1 << 2 // rollover RXB0 -> RXB1 when RXB0 full
)

// TXBnCTRL bits.
const (
	TXREQ byte = 1 << 3
)

// SIDL bits shared by buffer, mask and filter registers.
const (
	EXIDE       byte = 1 << 3
	SIDLStdMask byte = 7<<5 | EXIDE
	EIDMask     byte = 3 << 0
)

// EFLG bits.
const (
	EflgEWARN  byte = 1 << 0
	EflgRXWAR  byte = 1 << 1
	EflgTXWAR  byte = 1 << 2
	EflgRXEP   byte = 1 << 3
	EflgTXEP   byte = 1 << 4
	EflgTXBO   byte = 1 << 5
	EflgRX0OVR byte = 1 << 6
	EflgRX1OVR byte = 1 << 7
)

// Status is the byte returned by the controller's read-status instruction.
type Status byte

func (st Status) Rx0Pending() bool { return st&(1<<0) != 0 }
func (st Status) Rx1Pending() bool { return st&(1<<1) != 0 }

// FramePending reports whether either receive buffer holds an unread frame.
func (st Status) FramePending() bool { return st.Rx0Pending() || st.Rx1Pending() }

// Transport is the synchronous register-level access contract the bus
// controller consumes. Each call is a single atomic exchange with the chip;
// compound sequences (status read + buffer read, error read + flag clear)
// are serialized by the Bus, so implementations need not be reentrant.
//
// ReadRxBuffer uses the chip's dedicated buffer-read instruction, which
// clears that buffer's pending interrupt flag as a side effect.
type Transport interface {
	Reset() error
	Read(a Addr, buf []byte) error
	Write(a Addr, data []byte) error
	BitModify(a Addr, mask, value byte) error
	ReadStatus() (Status, error)
	ReadRxBuffer(n int, buf []byte) error
	LoadTxBuffer(n int, data []byte) error
	RequestToSend(n int) error
}

var (
	// ErrTxBusy means the transmit buffer still holds a frame pending arbitration.
	ErrTxBusy = errors.New("mcp2515: tx buffer busy")
)
