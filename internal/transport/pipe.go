package transport

import (
	"sync"
	"time"
)

// pollStep is the granularity at which Pipe reads re-check for input.
const pollStep = time.Millisecond

// Pipe is an in-memory Transport used by tests. Input bytes are fed by the
// test (the "device side"); everything written is recorded, and an optional
// write hook lets a test script device responses.
type Pipe struct {
	mu      sync.Mutex
	input   []byte
	writes  []byte
	timeout time.Duration
	closed  bool
	breaks  int
	onWrite func(p []byte)
}

// NewPipe creates an empty pipe in blocking-read mode.
func NewPipe() *Pipe {
	return &Pipe{timeout: NoTimeout}
}

// FeedInput appends device output for subsequent reads.
func (p *Pipe) FeedInput(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = append(p.input, data...)
}

// SetOnWrite installs a hook invoked after every Write with the bytes
// written. The hook runs outside the pipe lock, so it may call FeedInput.
func (p *Pipe) SetOnWrite(fn func(data []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = fn
}

// TakeWrites returns and clears everything written so far.
func (p *Pipe) TakeWrites() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.writes
	p.writes = nil
	return out
}

// Breaks returns how many break conditions were signalled.
func (p *Pipe) Breaks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breaks
}

// Read returns pending input, honoring the configured read timeout.
func (p *Pipe) Read(buf []byte) (int, error) {
	var deadline time.Time
	p.mu.Lock()
	if p.timeout != NoTimeout {
		deadline = time.Now().Add(p.timeout)
	}
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrDisconnected
		}
		if len(p.input) > 0 {
			n := copy(buf, p.input)
			p.input = p.input[n:]
			p.mu.Unlock()
			return n, nil
		}
		timedOut := !deadline.IsZero() && time.Now().After(deadline)
		p.mu.Unlock()

		if timedOut {
			return 0, ErrReadTimeout
		}
		time.Sleep(pollStep)
	}
}

// Write records p and invokes the write hook.
func (p *Pipe) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrDisconnected
	}
	p.writes = append(p.writes, data...)
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return len(data), nil
}

// SetReadTimeout configures the read timeout.
func (p *Pipe) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrDisconnected
	}
	p.timeout = d
	return nil
}

// ReadTimeout returns the currently configured read timeout.
func (p *Pipe) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// Discard drops all pending input bytes.
func (p *Pipe) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrDisconnected
	}
	p.input = nil
	return nil
}

// SendBreak records a break condition.
func (p *Pipe) SendBreak() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrDisconnected
	}
	p.breaks++
	return nil
}

// Close marks the pipe closed; pending and future reads fail with
// ErrDisconnected, emulating an unplugged device.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
