package bridge

import (
	"bytes"
	"testing"

	"github.com/cantools/mcp2515d/internal/metrics"
)

type decoded struct {
	typ     byte
	payload []byte
}

func collect(buf *bytes.Buffer) []decoded {
	var out []decoded
	decodeStream(buf, func(typ byte, payload []byte) {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		out = append(out, decoded{typ, cp})
	})
	return out
}

func TestDecodeStream_Chunked(t *testing.T) {
	want := []decoded{
		{typResponse, []byte{stOK, 0x12, 0x34}},
		{typEvent, []byte{0x03}},
		{typResponse, []byte{stOK}},
	}
	var stream []byte
	for _, d := range want {
		stream = appendFrame(stream, d.typ, d.payload)
	}

	var buf bytes.Buffer
	var got []decoded
	// Feed in irregular small chunks to stress preamble alignment & partials.
	chunkSizes := []int{1, 2, 3, 5, 7}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n
		got = append(got, collect(&buf)...)
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].typ != want[i].typ || !bytes.Equal(got[i].payload, want[i].payload) {
			t.Fatalf("frame %d mismatch\n got  typ=0x%02X payload=% X\n want typ=0x%02X payload=% X",
				i, got[i].typ, got[i].payload, want[i].typ, want[i].payload)
		}
	}
}

// TestDecodeStream_Resync verifies garbage and corrupt frames are skipped
// and the next intact frame still decodes.
func TestDecodeStream_Resync(t *testing.T) {
	before := metrics.Snap().Malformed

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0xFF, 0x42}) // leading noise
	corrupt := appendFrame(nil, typEvent, []byte{0x01})
	corrupt[len(corrupt)-1] ^= 0xFF // break checksum
	buf.Write(corrupt)
	buf.Write(appendFrame(nil, typEvent, []byte{0x05}))

	got := collect(&buf)
	if len(got) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(got))
	}
	if got[0].typ != typEvent || got[0].payload[0] != 0x05 {
		t.Fatalf("wrong frame survived: typ=0x%02X payload=% X", got[0].typ, got[0].payload)
	}
	if after := metrics.Snap().Malformed; after <= before {
		t.Fatalf("expected malformed metric increment, before=%d after=%d", before, after)
	}
}

func TestDecodeStream_PartialKept(t *testing.T) {
	full := appendFrame(nil, typResponse, []byte{stOK, 0xAB})
	var buf bytes.Buffer
	buf.Write(full[:len(full)-2])
	if got := collect(&buf); len(got) != 0 {
		t.Fatalf("decoded %d frames from partial input, want 0", len(got))
	}
	buf.Write(full[len(full)-2:])
	got := collect(&buf)
	if len(got) != 1 || got[0].payload[1] != 0xAB {
		t.Fatalf("frame did not survive split delivery: %+v", got)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not fully drained: %d bytes left", buf.Len())
	}
}
