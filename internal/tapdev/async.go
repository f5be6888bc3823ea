package tapdev

import (
	"sync"

	"github.com/ipop-project/ipop-tincan-sub000/internal/frame"
)

// Completion is delivered for every posted read or write, successful or
// not. Per spec §4.1, a failing I/O still produces a completion with
// OK=false rather than being silently dropped.
type Completion struct {
	Buf   *frame.Buffer
	N     int
	OK    bool
	Write bool // true for a write completion, false for a read completion
}

// AsyncIO serializes reads on one worker and writes on another, proceeding
// in parallel with each other, and delivers every completion on a single
// channel drained by the caller's own worker (the VirtualNetwork dispatch
// loop) — never on the I/O goroutines themselves, per spec §4.1.
type AsyncIO struct {
	dev Device

	readReqs  chan *frame.Buffer
	writeReqs chan *frame.Buffer
	completed chan Completion

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncIO starts the reader and writer goroutines for dev. completionCap
// sizes the completion channel buffer.
func NewAsyncIO(dev Device, completionCap int) *AsyncIO {
	a := &AsyncIO{
		dev:       dev,
		readReqs:  make(chan *frame.Buffer, completionCap),
		writeReqs: make(chan *frame.Buffer, completionCap),
		completed: make(chan Completion, completionCap),
		done:      make(chan struct{}),
	}
	go a.readLoop()
	go a.writeLoop()
	return a
}

// Completions returns the channel the dispatch worker should drain.
func (a *AsyncIO) Completions() <-chan Completion {
	return a.completed
}

// PostRead enqueues buf to be filled by the next TAP read.
func (a *AsyncIO) PostRead(buf *frame.Buffer) {
	select {
	case a.readReqs <- buf:
	case <-a.done:
	}
}

// PostWrite enqueues buf to be written to the TAP device.
func (a *AsyncIO) PostWrite(buf *frame.Buffer) {
	select {
	case a.writeReqs <- buf:
	case <-a.done:
	}
}

// Close stops accepting new I/O. Idempotent. In-flight reads unblock once
// the underlying device is closed by the caller.
func (a *AsyncIO) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
}

func (a *AsyncIO) readLoop() {
	for {
		select {
		case buf := <-a.readReqs:
			n, err := a.dev.Read(buf.Raw())
			ok := err == nil
			if ok {
				buf.SetLen(n)
			}
			a.deliver(Completion{Buf: buf, N: n, OK: ok, Write: false})
		case <-a.done:
			return
		}
	}
}

func (a *AsyncIO) writeLoop() {
	for {
		select {
		case buf := <-a.writeReqs:
			n, err := a.dev.Write(buf.Bytes())
			a.deliver(Completion{Buf: buf, N: n, OK: err == nil, Write: true})
		case <-a.done:
			return
		}
	}
}

func (a *AsyncIO) deliver(c Completion) {
	select {
	case a.completed <- c:
	case <-a.done:
	}
}
