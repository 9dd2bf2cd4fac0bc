// Package protocol implements the raw-REPL execution protocol spoken by
// MicroPython firmware over a serial transport.
//
// The control bytes and delimiters here are a contract with the firmware
// and must match exactly: ctrl-A enters raw mode, ctrl-B leaves it, ctrl-C
// interrupts, ctrl-D submits a buffer (and soft-resets right after entry),
// and executed output is framed as "OK" <stdout> 0x04 <error text> 0x04 ">".
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

// Raw-REPL control sequences and markers.
var (
	interruptSeq = []byte("\r\x03\x03")
	rawEntrySeq  = []byte("\r\x01")
	rawExitSeq   = []byte("\r\x02")
	softResetSeq = []byte{0x04}
	submitSeq    = []byte{0x04}

	rawBanner     = []byte("raw REPL; CTRL-B to exit\r\n")
	softRebootMsg = []byte("soft reboot\r\n")
	execAck       = []byte("OK")
	rawPrompt     = []byte(">")
	outputDelim   = []byte{0x04}
)

// ExecResult is the outcome of one raw-execution call. Immutable once
// produced.
type ExecResult struct {
	// Output is the captured stdout of the executed buffer. Empty when
	// the output was streamed to a sink instead.
	Output []byte

	// ErrText is the device's exception report, present iff the executed
	// code raised.
	ErrText []byte

	// Success is true iff no error text was produced. Exit codes do not
	// exist in this protocol.
	Success bool
}

// Driver owns raw-REPL mode transitions and execution framing on a
// transport. Methods are blocking and must not be called concurrently; a
// session issues one protocol operation at a time.
type Driver struct {
	t      transport.Transport
	cfg    config.ProtocolConfig
	logger zerolog.Logger
}

// NewDriver creates a driver bound to the given transport.
func NewDriver(t transport.Transport, cfg config.ProtocolConfig, logger zerolog.Logger) *Driver {
	return &Driver{
		t:      t,
		cfg:    cfg,
		logger: logger,
	}
}

// EnterRawMode transitions the device into raw-REPL mode from whatever
// state it is in, including mid-way through stale output. A running remote
// program is interrupted first. With softReset, the device is soft-rebooted
// once the raw prompt is reached.
//
// Re-entry from raw mode is supported by the firmware; the driver does not
// special-case it.
func (d *Driver) EnterRawMode(softReset bool) error {
	restore, err := d.pollTimeout()
	if err != nil {
		return err
	}
	defer restore()

	// Interrupt any running program, then drop its stale output.
	if _, err := d.t.Write(interruptSeq); err != nil {
		return err
	}
	if err := d.t.Discard(); err != nil {
		return err
	}

	if _, err := d.t.Write(rawEntrySeq); err != nil {
		return err
	}

	if softReset {
		want := append(append([]byte{}, rawBanner...), rawPrompt...)
		data, err := d.readUntil(want, d.cfg.EntryTimeout, nil)
		if err != nil {
			return entryErr(data, err)
		}
		if _, err := d.t.Write(softResetSeq); err != nil {
			return err
		}
		data, err = d.readUntil(softRebootMsg, d.cfg.EntryTimeout, nil)
		if err != nil {
			return entryErr(data, err)
		}
	}

	data, err := d.readUntil(rawBanner, d.cfg.EntryTimeout, nil)
	if err != nil {
		return entryErr(data, err)
	}

	d.logger.Debug().Bool("soft_reset", softReset).Msg("entered raw repl")
	return nil
}

// ExitRawMode sends the mode-exit sequence. The device ends up at whatever
// prompt its firmware state produces; whether it is safe to treat as
// interactive is the caller's decision.
func (d *Driver) ExitRawMode() error {
	if _, err := d.t.Write(rawExitSeq); err != nil {
		return err
	}
	d.logger.Debug().Msg("left raw repl")
	return nil
}

// Interrupt sends a double ctrl-C, stopping any running remote program.
func (d *Driver) Interrupt() error {
	_, err := d.t.Write(interruptSeq)
	return err
}

// Exec submits buf for execution and blocks until the device reports
// completion. There is deliberately no timeout: remote execution time is
// unbounded.
//
// With a nil sink the output is accumulated into the result. With a sink,
// output bytes are forwarded as they arrive and the result carries no
// output copy; this is the path for long-running code where the caller
// wants live progress.
func (d *Driver) Exec(buf []byte, sink io.Writer) (*ExecResult, error) {
	restore, err := d.pollTimeout()
	if err != nil {
		return nil, err
	}
	defer restore()

	if err := d.submit(buf); err != nil {
		return nil, err
	}

	out, err := d.readUntil(outputDelim, 0, sink)
	if err != nil {
		return nil, err
	}
	errText, err := d.readUntil(outputDelim, 0, nil)
	if err != nil {
		return nil, err
	}

	out = bytes.TrimSuffix(out, outputDelim)
	errText = bytes.TrimSuffix(errText, outputDelim)

	result := &ExecResult{
		ErrText: errText,
		Success: len(errText) == 0,
	}
	if sink == nil {
		result.Output = out
	}

	if !result.Success {
		d.logger.Debug().Str("error", string(errText)).Msg("remote exception")
	}
	return result, nil
}

// ExecNoFollow submits buf and returns as soon as the device acknowledges
// the submission, without waiting for a result. Callers observe completion
// through a different channel, such as interactive output forwarding.
func (d *Driver) ExecNoFollow(buf []byte) error {
	restore, err := d.pollTimeout()
	if err != nil {
		return err
	}
	defer restore()

	return d.submit(buf)
}

// submit waits for the raw prompt, writes buf in chunks and reads the
// submission acknowledgement. The inter-chunk delay lets the device drain
// its UART buffer; firmware has no flow control in raw mode.
func (d *Driver) submit(buf []byte) error {
	data, err := d.readUntil(rawPrompt, d.cfg.EntryTimeout, nil)
	if err != nil {
		return entryErr(data, err)
	}

	for i := 0; i < len(buf); i += d.cfg.ChunkSize {
		end := i + d.cfg.ChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := d.t.Write(buf[i:end]); err != nil {
			return err
		}
		time.Sleep(d.cfg.InterChunkDelay)
	}
	if _, err := d.t.Write(submitSeq); err != nil {
		return err
	}

	ack, err := d.readN(len(execAck), d.cfg.EntryTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExecResponse, err)
	}
	if !bytes.Equal(ack, execAck) {
		return fmt.Errorf("%w: response %q", ErrExecResponse, ack)
	}
	return nil
}

// readUntil accumulates bytes until the stream ends with ending. The idle
// timeout is measured from the last received byte, not from the start of
// the read; zero waits forever. With a sink, bytes are forwarded as soon
// as they can no longer be part of the terminating marker, and the marker
// itself is withheld.
func (d *Driver) readUntil(ending []byte, idle time.Duration, sink io.Writer) ([]byte, error) {
	var (
		acc      []byte
		sent     int
		lastByte = time.Now()
		one      = make([]byte, 1)
	)

	for {
		n, err := d.t.Read(one)
		if errors.Is(err, transport.ErrReadTimeout) {
			if idle > 0 && time.Since(lastByte) > idle {
				return acc, fmt.Errorf("%w: waiting for %q", ErrTimeout, ending)
			}
			continue
		}
		if err != nil {
			return acc, err
		}
		if n == 0 {
			continue
		}

		acc = append(acc, one[0])
		lastByte = time.Now()

		if bytes.HasSuffix(acc, ending) {
			if sink != nil {
				if _, werr := sink.Write(acc[sent : len(acc)-len(ending)]); werr != nil {
					return acc, werr
				}
			}
			return acc, nil
		}

		if sink != nil {
			// Forward everything that cannot still be marker prefix.
			flushable := len(acc) - (len(ending) - 1)
			if flushable > sent {
				if _, werr := sink.Write(acc[sent:flushable]); werr != nil {
					return acc, werr
				}
				sent = flushable
			}
		}
	}
}

// readN reads exactly n bytes, with the idle timeout semantics of
// readUntil.
func (d *Driver) readN(n int, idle time.Duration) ([]byte, error) {
	var (
		acc      []byte
		lastByte = time.Now()
		one      = make([]byte, 1)
	)

	for len(acc) < n {
		m, err := d.t.Read(one)
		if errors.Is(err, transport.ErrReadTimeout) {
			if idle > 0 && time.Since(lastByte) > idle {
				return acc, fmt.Errorf("%w: short read %d/%d", ErrTimeout, len(acc), n)
			}
			continue
		}
		if err != nil {
			return acc, err
		}
		if m == 0 {
			continue
		}
		acc = append(acc, one[0])
		lastByte = time.Now()
	}
	return acc, nil
}

// pollTimeout switches the transport to the short polling read timeout and
// returns a restore func for the previous value. The restore must run on
// every exit path: the read timeout is shared transport state.
func (d *Driver) pollTimeout() (func(), error) {
	prev := d.t.ReadTimeout()
	if err := d.t.SetReadTimeout(d.cfg.PollInterval); err != nil {
		return nil, err
	}
	return func() {
		if err := d.t.SetReadTimeout(prev); err != nil {
			d.logger.Warn().Err(err).Msg("failed to restore read timeout")
		}
	}, nil
}

// entryErr wraps a failed handshake read, keeping the tail of what the
// device actually said for diagnostics.
func entryErr(data []byte, err error) error {
	if errors.Is(err, transport.ErrDisconnected) {
		return err
	}
	tail := data
	if len(tail) > 64 {
		tail = tail[len(tail)-64:]
	}
	return fmt.Errorf("%w: got %q: %v", ErrEntrySequence, tail, err)
}
