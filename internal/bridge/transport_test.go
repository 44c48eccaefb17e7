package bridge

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakePort emulates the bridge board: command frames written by the
// transport are parsed and answered through onCmd, and tests can inject
// unsolicited event frames.
type fakePort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	rx     bytes.Buffer // bytes pending for Transport.Read
	cmdBuf bytes.Buffer // accumulated host->bridge bytes
	closed bool
	onCmd  func(payload []byte) []byte // response payload (status+data); nil = stay silent
}

func newFakePort(onCmd func([]byte) []byte) *fakePort {
	p := &fakePort{onCmd: onCmd}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.rx.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return 0, io.EOF
	}
	return p.rx.Read(buf)
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.cmdBuf.Write(buf)
	decodeStream(&p.cmdBuf, func(typ byte, payload []byte) {
		if typ != typCommand || p.onCmd == nil {
			return
		}
		if resp := p.onCmd(payload); resp != nil {
			p.rx.Write(appendFrame(nil, typResponse, resp))
			p.cond.Broadcast()
		}
	})
	return len(buf), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

func (p *fakePort) sendEvent(cause byte) {
	p.mu.Lock()
	p.rx.Write(appendFrame(nil, typEvent, []byte{cause}))
	p.cond.Broadcast()
	p.mu.Unlock()
}

func TestTransport_ReadRoundTrip(t *testing.T) {
	p := newFakePort(func(payload []byte) []byte {
		if payload[0] != opRead {
			t.Errorf("unexpected opcode 0x%02X", payload[0])
			return []byte{0x01}
		}
		addr, n := payload[1], int(payload[2])
		resp := []byte{stOK}
		for i := 0; i < n; i++ {
			resp = append(resp, addr+byte(i))
		}
		return resp
	})
	tr := NewTransport(p)
	defer tr.Close()

	var buf [3]byte
	if err := tr.Read(0x28, buf[:]); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf != [3]byte{0x28, 0x29, 0x2A} {
		t.Fatalf("register data mismatch: % X", buf)
	}
}

func TestTransport_RemoteError(t *testing.T) {
	p := newFakePort(func(payload []byte) []byte { return []byte{0x7F} })
	tr := NewTransport(p)
	defer tr.Close()

	if err := tr.Reset(); !errors.Is(err, ErrRemote) {
		t.Fatalf("err=%v, want ErrRemote", err)
	}
}

func TestTransport_Timeout(t *testing.T) {
	p := newFakePort(func(payload []byte) []byte { return nil }) // never answers
	tr := NewTransport(p, WithTimeout(20*time.Millisecond))
	defer tr.Close()

	if err := tr.Reset(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err=%v, want ErrTimeout", err)
	}
}

func TestTransport_EventDemux(t *testing.T) {
	p := newFakePort(nil)
	tr := NewTransport(p)
	defer tr.Close()

	p.sendEvent(0x03)
	p.sendEvent(0x20)

	for _, want := range []byte{0x03, 0x20} {
		select {
		case got := <-tr.Events():
			if got != want {
				t.Fatalf("event cause=0x%02X, want 0x%02X", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestTransport_ClosedRejectsCommands(t *testing.T) {
	p := newFakePort(nil)
	tr := NewTransport(p)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Reset(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

func TestTransport_StatusAndBitModifyWire(t *testing.T) {
	var gotCmds [][]byte
	p := newFakePort(func(payload []byte) []byte {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		gotCmds = append(gotCmds, cp)
		if payload[0] == opReadStatus {
			return []byte{stOK, 0x41}
		}
		return []byte{stOK}
	})
	tr := NewTransport(p)
	defer tr.Close()

	st, err := tr.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st != 0x41 {
		t.Fatalf("status=0x%02X, want 0x41", st)
	}
	if err := tr.BitModify(0x2C, 0x03, 0x00); err != nil {
		t.Fatalf("BitModify: %v", err)
	}
	if err := tr.RequestToSend(0); err != nil {
		t.Fatalf("RequestToSend: %v", err)
	}

	want := [][]byte{
		{opReadStatus},
		{opBitModify, 0x2C, 0x03, 0x00},
		{opRTS | 0x01},
	}
	if len(gotCmds) != len(want) {
		t.Fatalf("bridge saw %d commands, want %d", len(gotCmds), len(want))
	}
	for i := range want {
		if !bytes.Equal(gotCmds[i], want[i]) {
			t.Fatalf("command %d mismatch\n got  % X\n want % X", i, gotCmds[i], want[i])
		}
	}
}
