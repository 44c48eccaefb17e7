package mcp2515

import (
	"errors"
	"testing"

	"github.com/cantools/mcp2515d/internal/can"
)

func TestFrameCodec_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		f    can.Frame
	}{
		{"std_min", can.Frame{ID: 0x000, Len: 0}},
		{"std_max", can.Frame{ID: 0x7FF, Len: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}},
		{"std_mid", can.Frame{ID: 0x123, Len: 3, Data: [8]byte{0xDE, 0xAD, 0xBE}}},
		{"std_rtr", can.Frame{ID: 0x456, RTR: true, Len: 0}},
		{"ext_min", can.Frame{ID: 0x000, Extended: true, Len: 1, Data: [8]byte{0xFF}}},
		{"ext_max", can.Frame{ID: 0x1FFFFFFF, Extended: true, Len: 8, Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}}},
		{"ext_mid", can.Frame{ID: 0x1ABCDE, Extended: true, Len: 5, Data: [8]byte{0x11, 0x22, 0x33, 0x44, 0x55}}},
		{"ext_rtr", can.Frame{ID: 0x101234, Extended: true, RTR: true, Len: 2, Data: [8]byte{0xA5, 0x5A}}},
		// 0x7FF fits both widths; the width tag must survive.
		{"ext_low_id", can.Frame{ID: 0x7FF, Extended: true, Len: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := EncodeFrame(tc.f)
			if err != nil {
				t.Fatalf("EncodeFrame: %v", err)
			}
			if len(buf) != frameBufLen {
				t.Fatalf("buffer length %d, want %d", len(buf), frameBufLen)
			}
			got := DecodeFrame(buf)
			if got != tc.f {
				t.Fatalf("round trip mismatch\n got  %+v\n want %+v", got, tc.f)
			}
		})
	}
}

func TestEncodeFrame_IDWidth(t *testing.T) {
	if _, err := EncodeFrame(can.Frame{ID: 0x800}); !errors.Is(err, can.ErrInvalidID) {
		t.Fatalf("std overflow err=%v, want ErrInvalidID", err)
	}
	if _, err := EncodeFrame(can.Frame{ID: 0x20000000, Extended: true}); !errors.Is(err, can.ErrInvalidID) {
		t.Fatalf("ext overflow err=%v, want ErrInvalidID", err)
	}
	// 0x800 is valid as an extended identifier.
	if _, err := EncodeFrame(can.Frame{ID: 0x800, Extended: true}); err != nil {
		t.Fatalf("ext 0x800: %v", err)
	}
}

func TestEncodeFrame_LenClamp(t *testing.T) {
	buf, err := EncodeFrame(can.Frame{ID: 0x10, Len: 12})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if buf[4]&0x0F != 8 {
		t.Fatalf("encoded DLC=%d, want clamp to 8", buf[4]&0x0F)
	}
}

// TestDecodeFrame_Total exercises decode over raw register images the
// encoder never produces: reserved DLC bits set and DLC codes above 8.
func TestDecodeFrame_Total(t *testing.T) {
	buf := make([]byte, frameBufLen)
	encodeID(buf, 0x321, false)
	buf[4] = 0x0F // DLC 15
	f := DecodeFrame(buf)
	if f.Len != 8 {
		t.Fatalf("Len=%d, want clamp to 8", f.Len)
	}

	buf[4] = 0x23 // reserved bit 5 set, DLC 3
	f = DecodeFrame(buf)
	if f.Len != 3 || f.RTR {
		t.Fatalf("got Len=%d RTR=%v, want Len=3 RTR=false", f.Len, f.RTR)
	}
}

func TestIdentifierRegisterLayout(t *testing.T) {
	var regs [4]byte
	encodeID(regs[:], 0x7FF, false)
	if regs[0] != 0xFF || regs[1] != 0xE0 || regs[2] != 0 || regs[3] != 0 {
		t.Fatalf("std 0x7FF regs=% X, want FF E0 00 00", regs)
	}
	encodeID(regs[:], 0x1FFFFFFF, true)
	if regs[0] != 0xFF || regs[1] != 0xEB || regs[2] != 0xFF || regs[3] != 0xFF {
		t.Fatalf("ext max regs=% X, want FF EB FF FF", regs)
	}
}
