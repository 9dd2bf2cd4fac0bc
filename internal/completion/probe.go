// Package completion implements the tab-completion micro-protocol: a
// byte-exact handshake that asks the device's friendly prompt for
// completion candidates without durably leaving raw-execution mode.
package completion

import (
	"bytes"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/protocol"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

const (
	enterFriendlyByte = 0x02 // ctrl-B: switch to the friendly prompt
	completeByte      = 0x09 // tab: trigger the completion engine
	cancelLineByte    = 0x03 // ctrl-C: drop the half-typed line

	// promptEcho precedes the re-echo of the partial line once a
	// multi-line listing ends.
	promptEcho = ">>> "
)

// Kind classifies a completion reply.
type Kind int

const (
	// Simple is a single in-place completion.
	Simple Kind = iota

	// Multiline is a printed listing of candidates.
	Multiline
)

// Result is a completion reply. Consumed immediately by the caller, never
// persisted.
type Result struct {
	Kind Kind

	// Text is the device's response. For Simple it still carries the
	// echoed prefix; the caller strips it as needed.
	Text string
}

// Probe queries the device's completion engine. It temporarily drops the
// session to the friendly prompt and restores raw-execution mode before
// returning.
type Probe struct {
	t      transport.Transport
	driver *protocol.Driver
	cfg    config.ProtocolConfig
	logger zerolog.Logger
}

// NewProbe creates a probe sharing the session's transport and driver.
func NewProbe(t transport.Transport, driver *protocol.Driver, cfg config.ProtocolConfig, logger zerolog.Logger) *Probe {
	return &Probe{
		t:      t,
		driver: driver,
		cfg:    cfg,
		logger: logger,
	}
}

// Query asks for completions of the partial input line. The session must
// be in raw-execution mode. A reply that never arrives is "no completion
// available", not an error.
//
// If Query returns an error, the session's mode is indeterminate until a
// fresh EnterRawMode succeeds.
func (p *Probe) Query(line string) (*Result, error) {
	saved := p.t.ReadTimeout()
	defer func() {
		if err := p.t.SetReadTimeout(saved); err != nil {
			p.logger.Warn().Err(err).Msg("failed to restore read timeout")
		}
	}()

	// Switch to the friendly prompt and give the firmware time to print
	// its banner. The delay is a tolerance window, not a guarantee.
	if _, err := p.t.Write([]byte{enterFriendlyByte}); err != nil {
		return nil, err
	}
	time.Sleep(p.cfg.BannerDelay)
	if err := p.t.Discard(); err != nil {
		return nil, err
	}

	// Type the partial line and hit tab.
	if _, err := p.t.Write([]byte(line)); err != nil {
		return nil, err
	}
	if _, err := p.t.Write([]byte{completeByte}); err != nil {
		return nil, err
	}

	// A line with no completions produces no further output at all, so
	// this read must be bounded.
	if err := p.t.SetReadTimeout(p.cfg.CompletionTimeout); err != nil {
		return nil, err
	}

	first, err := p.readLine()
	if err != nil {
		return nil, err
	}

	var result *Result
	if len(first) > len(line)+2 {
		// Strictly longer than echo + CRLF: a single in-place
		// completion was offered.
		result = &Result{Kind: Simple, Text: string(first)}
	} else {
		text, err := p.readListing(first, []byte(line))
		if err != nil {
			return nil, err
		}
		result = &Result{Kind: Multiline, Text: text}
	}

	// Drop the half-typed line so it does not persist, then restore
	// raw-execution mode.
	if _, err := p.t.Write([]byte{cancelLineByte}); err != nil {
		return nil, err
	}
	if err := p.driver.EnterRawMode(false); err != nil {
		return nil, err
	}

	return result, nil
}

// readLine reads until a CRLF terminator or the bounded timeout.
func (p *Probe) readLine() ([]byte, error) {
	var acc []byte
	one := make([]byte, 1)

	for {
		n, err := p.t.Read(one)
		if errors.Is(err, transport.ErrReadTimeout) {
			return acc, nil
		}
		if err != nil {
			return acc, err
		}
		if n == 0 {
			continue
		}
		acc = append(acc, one[0])
		if bytes.HasSuffix(acc, []byte("\r\n")) {
			return acc, nil
		}
	}
}

// readListing consumes a multi-line candidate listing. The device
// re-echoes the prompt and the partial line once the listing ends; reading
// stops there, and the re-echoed framing is trimmed off.
func (p *Probe) readListing(first, line []byte) (string, error) {
	// Matching the prompt together with the line keeps a candidate that
	// merely starts with the typed prefix (say "print" for "pri") from
	// ending the read inside the listing.
	marker := append([]byte(promptEcho), line...)

	var rest []byte
	one := make([]byte, 1)

	for {
		n, err := p.t.Read(one)
		if errors.Is(err, transport.ErrReadTimeout) {
			break
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		rest = append(rest, one[0])

		if idx := bytes.Index(rest, marker); idx >= 0 {
			rest = rest[:idx]
			break
		}
	}

	text := append(append([]byte{}, first...), rest...)
	text = bytes.TrimSuffix(text, []byte("\r\n"))
	return string(text), nil
}
