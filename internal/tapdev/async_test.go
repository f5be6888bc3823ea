package tapdev

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
)

// fakeDevice is a hand-written Device fake, following the teacher's
// interface-fake style (there is no mocking library anywhere in the pack
// for this domain).
type fakeDevice struct {
	mu       sync.Mutex
	name     string
	mac      net.HardwareAddr
	readData [][]byte
	readErr  error
	written  [][]byte
	writeErr error
}

func (f *fakeDevice) Name() string                   { return f.name }
func (f *fakeDevice) HardwareAddr() net.HardwareAddr { return f.mac }

func (f *fakeDevice) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.readData) == 0 {
		return 0, fmt.Errorf("fakeDevice: no queued read data")
	}
	data := f.readData[0]
	f.readData = f.readData[1:]
	return copy(buf, data), nil
}

func (f *fakeDevice) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.written = append(f.written, cp)
	return len(buf), nil
}

func (f *fakeDevice) SetMTU(int) error                     { return nil }
func (f *fakeDevice) SetMACAddress(net.HardwareAddr) error { return nil }
func (f *fakeDevice) AddIPAddress(net.IP, int) error       { return nil }
func (f *fakeDevice) SetUp() error                         { return nil }
func (f *fakeDevice) Close() error                         { return nil }

func TestAsyncIOReadCompletion(t *testing.T) {
	dev := &fakeDevice{name: "tap0", readData: [][]byte{[]byte("hello")}}
	aio := NewAsyncIO(dev, 4)
	defer aio.Close()

	buf := &frame.Buffer{}
	aio.PostRead(buf)

	select {
	case c := <-aio.Completions():
		if !c.OK {
			t.Fatal("expected OK completion")
		}
		if c.Write {
			t.Fatal("expected a read completion")
		}
		if string(c.Buf.Bytes()) != "hello" {
			t.Fatalf("buffer = %q, want hello", c.Buf.Bytes())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

func TestAsyncIOFailedReadStillCompletes(t *testing.T) {
	dev := &fakeDevice{name: "tap0", readErr: fmt.Errorf("boom")}
	aio := NewAsyncIO(dev, 4)
	defer aio.Close()

	buf := &frame.Buffer{}
	aio.PostRead(buf)

	select {
	case c := <-aio.Completions():
		if c.OK {
			t.Fatal("expected a failed completion")
		}
		if c.Buf != buf {
			t.Fatal("expected the same buffer back on failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failed read completion")
	}
}

func TestAsyncIOWriteCompletion(t *testing.T) {
	dev := &fakeDevice{name: "tap0"}
	aio := NewAsyncIO(dev, 4)
	defer aio.Close()

	buf := &frame.Buffer{}
	buf.LoadPayload([]byte("frame-body"))
	aio.PostWrite(buf)

	select {
	case c := <-aio.Completions():
		if !c.OK || !c.Write {
			t.Fatalf("unexpected completion: %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}

	if len(dev.written) != 1 || string(dev.written[0]) != "frame-body" {
		t.Fatalf("device received %v, want one frame-body write", dev.written)
	}
}

func TestAsyncIOReadsAndWritesProceedInParallel(t *testing.T) {
	dev := &fakeDevice{name: "tap0", readData: [][]byte{[]byte("a"), []byte("b")}}
	aio := NewAsyncIO(dev, 8)
	defer aio.Close()

	w := &frame.Buffer{}
	w.LoadPayload([]byte("w"))
	aio.PostWrite(w)
	aio.PostRead(&frame.Buffer{})
	aio.PostRead(&frame.Buffer{})

	got := map[bool]int{}
	for i := 0; i < 3; i++ {
		select {
		case c := <-aio.Completions():
			got[c.Write]++
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for completions")
		}
	}
	if got[true] != 1 || got[false] != 2 {
		t.Fatalf("completions = %v, want 1 write and 2 reads", got)
	}
}
