// Package bridge relays bytes between a local operator and the device's
// friendly prompt: two concurrent forwarding loops with coordinated,
// race-free shutdown.
//
// The transport needs no locking: the output loop is its only reader and
// the input loop its only writer. Only shutdown is coordinated.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/muesli/cancelreader"
	"github.com/rs/zerolog"

	"github.com/paulober/pyboard-serial-com/internal/transport"
)

const (
	// exitByte ends the bridge when typed locally (ctrl-X). Swallowed,
	// never forwarded.
	exitByte = 0x18

	// eofByte is the local end-of-input byte (ctrl-D). Swallowed, never
	// forwarded: the friendly prompt would soft-reset on it.
	eofByte = 0x04
)

// Bridge forwards local input lines to the device and device output bytes
// to the local sink. At most one bridge may be alive per session.
type Bridge struct {
	t      transport.Transport
	in     io.Reader
	out    io.Writer
	poll   time.Duration
	logger zerolog.Logger

	reader      cancelreader.CancelReader
	cancel      chan struct{}
	cancelOnce  sync.Once
	cleanupOnce sync.Once
	wg          sync.WaitGroup
	prevTimeout time.Duration

	mu  sync.Mutex
	err error
}

// New creates a bridge between the transport and the local in/out pair.
// The device must already be at its friendly prompt: the bridge never
// changes device modes itself.
func New(t transport.Transport, in io.Reader, out io.Writer, poll time.Duration, logger zerolog.Logger) *Bridge {
	return &Bridge{
		t:      t,
		in:     in,
		out:    out,
		poll:   poll,
		logger: logger,
		cancel: make(chan struct{}),
	}
}

// Start launches both forwarding loops. The transport is exclusively
// owned by the bridge until Wait or Stop returns.
func (b *Bridge) Start() error {
	reader, err := cancelreader.NewReader(b.in)
	if err != nil {
		return fmt.Errorf("local input is not cancellable: %w", err)
	}
	b.reader = reader

	b.prevTimeout = b.t.ReadTimeout()
	if err := b.t.SetReadTimeout(b.poll); err != nil {
		reader.Close()
		return err
	}

	b.wg.Add(2)
	go b.outputLoop()
	go b.inputLoop()

	b.logger.Debug().Msg("bridge started")
	return nil
}

// Stop requests shutdown and joins both loops. Safe to call more than
// once and concurrently with a loop-initiated shutdown.
func (b *Bridge) Stop() error {
	b.requestStop()
	return b.Wait()
}

// Wait joins both loops and releases the transport, restoring its read
// timeout. It returns the first error either loop recorded, if any.
func (b *Bridge) Wait() error {
	b.wg.Wait()
	b.cleanupOnce.Do(func() {
		if err := b.t.SetReadTimeout(b.prevTimeout); err != nil {
			b.logger.Warn().Err(err).Msg("failed to restore read timeout")
		}
		b.reader.Close()
		b.logger.Debug().Msg("bridge stopped")
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// requestStop signals both loops. The input loop may be blocked inside a
// local read; cancelling the reader guarantees that read returns
// promptly.
func (b *Bridge) requestStop() {
	b.cancelOnce.Do(func() {
		close(b.cancel)
		b.reader.Cancel()
	})
}

func (b *Bridge) recordErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

// outputLoop forwards device bytes to the local sink until cancelled or
// the device fails.
func (b *Bridge) outputLoop() {
	defer b.wg.Done()
	defer b.requestStop()

	one := make([]byte, 1)
	for {
		select {
		case <-b.cancel:
			return
		default:
		}

		n, err := b.t.Read(one)
		if errors.Is(err, transport.ErrReadTimeout) {
			continue
		}
		if errors.Is(err, transport.ErrDisconnected) {
			b.recordErr(err)
			b.logger.Warn().Msg("device disconnected during bridge")
			return
		}
		if err != nil {
			b.recordErr(fmt.Errorf("bridge read: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		if _, err := b.out.Write(renderByte(one[0])); err != nil {
			b.recordErr(fmt.Errorf("bridge local write: %w", err))
			return
		}
	}
}

// inputLoop forwards local lines to the device until cancelled. The
// device's friendly prompt consumes whole lines, not keystrokes.
//
// Input is read one byte at a time: a buffered reader would consume
// bytes beyond the line that ends the bridge, and those belong to
// whoever owns the input stream next.
func (b *Bridge) inputLoop() {
	defer b.wg.Done()
	defer b.requestStop()

	one := make([]byte, 1)
	var line []byte
	for {
		n, err := b.reader.Read(one)

		select {
		case <-b.cancel:
			// Data received after cancellation is discarded.
			return
		default:
		}

		if n > 0 {
			line = append(line, one[0])
		}
		if err == nil && (n == 0 || one[0] != '\n') {
			continue
		}

		// A complete line, or whatever was pending when the stream
		// ended.
		if len(line) > 0 {
			forward, exit := filterLine(line)
			line = line[:0]
			if exit {
				return
			}
			if _, werr := b.t.Write(forward); werr != nil {
				b.recordErr(werr)
				return
			}
		}

		if errors.Is(err, cancelreader.ErrCanceled) || errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			b.recordErr(fmt.Errorf("bridge local read: %w", err))
			return
		}
	}
}

// filterLine strips line endings, swallows the intercepted control bytes
// and appends the carriage return the device expects. exit reports
// whether the operator asked to leave the bridge.
func filterLine(line []byte) (forward []byte, exit bool) {
	line = bytes.TrimRight(line, "\r\n")

	out := make([]byte, 0, len(line)+1)
	for _, c := range line {
		switch c {
		case exitByte:
			return nil, true
		case eofByte:
			// swallowed
		default:
			out = append(out, c)
		}
	}
	return append(out, '\r'), false
}

// renderByte maps a device byte to what the local terminal gets to see.
// Printable text and common control bytes pass through verbatim; anything
// else becomes a visible two-hex-digit escape so raw firmware bytes never
// corrupt the local terminal.
func renderByte(c byte) []byte {
	if c >= 0x20 && c <= 0x7e {
		return []byte{c}
	}
	switch c {
	case '\r', '\n', '\t', '\b', 0x1b:
		return []byte{c}
	}
	return []byte(fmt.Sprintf("\\x%02x", c))
}
