package can

import "errors"

// Identifier widths for classic CAN.
const (
	MaxStdID = 0x7FF      // 11-bit standard identifier
	MaxExtID = 0x1FFFFFFF // 29-bit extended identifier
)

// Flag bits used when an identifier is packed into a single uint32 on the
// TCP wire (same values as SocketCAN can_id flags).
const (
	EFFFlag = 0x80000000
	RTRFlag = 0x40000000
)

var (
	ErrInvalidID  = errors.New("can: identifier exceeds declared width")
	ErrInvalidLen = errors.New("can: data length exceeds 8")
)

// Frame is a classic CAN frame. Extended tags the identifier width
// (11-bit standard vs 29-bit extended); RTR marks a remote request.
// Only the first Len bytes of Data are valid. Frames are plain values:
// construct, copy and compare them directly.
type Frame struct {
	ID       uint32
	Extended bool
	RTR      bool
	Len      uint8
	Data     [8]byte
}

// Validate reports whether the identifier fits its declared width and the
// length is within the classic CAN limit.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	max := uint32(MaxStdID)
	if f.Extended {
		max = MaxExtID
	}
	if f.ID > max {
		return ErrInvalidID
	}
	return nil
}

// PackedID returns the identifier with EFF/RTR flag bits folded in.
func (f Frame) PackedID() uint32 {
	id := f.ID
	if f.Extended {
		id |= EFFFlag
	}
	if f.RTR {
		id |= RTRFlag
	}
	return id
}

// Unpack splits a flagged identifier back into Frame fields.
func (f *Frame) Unpack(packed uint32) {
	f.Extended = packed&EFFFlag != 0
	f.RTR = packed&RTRFlag != 0
	if f.Extended {
		f.ID = packed & MaxExtID
	} else {
		f.ID = packed & MaxStdID
	}
}
