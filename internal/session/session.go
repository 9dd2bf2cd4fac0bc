// Package session ties a transport, protocol driver and the operation
// surfaces built on them into one stateful device session with explicit
// mode tracking.
package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paulober/pyboard-serial-com/internal/bridge"
	"github.com/paulober/pyboard-serial-com/internal/completion"
	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/fileops"
	"github.com/paulober/pyboard-serial-com/internal/protocol"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

// Mode is the session's current protocol state.
type Mode int

const (
	// ModeClosed means the session is not usable.
	ModeClosed Mode = iota

	// ModeRawExec means the device sits at the raw-REPL prompt and
	// accepts execution buffers.
	ModeRawExec

	// ModeInteractive means a bridge owns the transport and the device
	// sits at its friendly prompt.
	ModeInteractive
)

func (m Mode) String() string {
	switch m {
	case ModeRawExec:
		return "raw-exec"
	case ModeInteractive:
		return "interactive"
	default:
		return "closed"
	}
}

// ErrWrongMode indicates an operation was attempted in a session mode
// that does not support it.
var ErrWrongMode = errors.New("operation not valid in current session mode")

// Session is one connection to a device. Operations are blocking and
// must be issued one at a time; the session serializes nothing itself.
type Session struct {
	// ID identifies the session in logs and events.
	ID string

	t      transport.Transport
	cfg    config.ProtocolConfig
	driver *protocol.Driver
	files  *fileops.Service
	probe  *completion.Probe
	logger zerolog.Logger
	mode   Mode
}

// New creates a closed session over the given transport. Call Open
// before issuing operations.
func New(t transport.Transport, cfg config.ProtocolConfig, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	logger = logger.With().Str("session", id).Logger()
	driver := protocol.NewDriver(t, cfg, logger)
	return &Session{
		ID:     id,
		t:      t,
		cfg:    cfg,
		driver: driver,
		files:  fileops.NewService(driver, cfg, logger),
		probe:  completion.NewProbe(t, driver, cfg, logger),
		logger: logger,
		mode:   ModeClosed,
	}
}

// Mode returns the session's current mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// Files exposes the filesystem operation surface. Callers must hold the
// session in raw-exec mode.
func (s *Session) Files() *fileops.Service {
	return s.files
}

func (s *Session) ensure(m Mode) error {
	if s.mode != m {
		return fmt.Errorf("%w: have %s, need %s", ErrWrongMode, s.mode, m)
	}
	return nil
}

// Open enters raw-REPL mode, optionally through a soft reset, and moves
// the session to raw-exec.
func (s *Session) Open(softReset bool) error {
	if s.mode == ModeInteractive {
		return s.ensure(ModeClosed)
	}
	if err := s.driver.EnterRawMode(softReset); err != nil {
		return err
	}
	s.mode = ModeRawExec
	s.logger.Debug().Bool("soft_reset", softReset).Msg("session open")
	return nil
}

// Exec runs a code buffer and returns the captured result. With a
// non-nil sink the output is streamed there instead.
func (s *Session) Exec(code []byte, sink io.Writer) (*protocol.ExecResult, error) {
	if err := s.ensure(ModeRawExec); err != nil {
		return nil, err
	}
	return s.driver.Exec(code, sink)
}

// ExecDetached submits a code buffer without following its output. The
// device output stays buffered on the wire until the next operation or
// an explicit watch.
func (s *Session) ExecDetached(code []byte) error {
	if err := s.ensure(ModeRawExec); err != nil {
		return err
	}
	return s.driver.ExecNoFollow(code)
}

// ExecAndWatch submits a code buffer and streams its live output to out
// until the device signals completion or stop closes. Error text is
// forwarded verbatim; the caller decides how to present it.
func (s *Session) ExecAndWatch(code []byte, out io.Writer, stop <-chan struct{}) error {
	if err := s.ensure(ModeRawExec); err != nil {
		return err
	}
	if err := s.driver.ExecNoFollow(code); err != nil {
		return err
	}
	return bridge.WatchOutput(s.t, out, s.cfg.PollInterval, stop)
}

// Completion probes the friendly REPL's tab completion for a partial
// input line. The session is back in raw-exec mode on return.
func (s *Session) Completion(line string) (*completion.Result, error) {
	if err := s.ensure(ModeRawExec); err != nil {
		return nil, err
	}
	return s.probe.Query(line)
}

// Interactive hands the transport to a bridge between in/out and the
// friendly REPL. Blocks until the user's exit byte, an input EOF or a
// device failure, then re-enters raw-exec mode.
func (s *Session) Interactive(in io.Reader, out io.Writer) error {
	if err := s.ensure(ModeRawExec); err != nil {
		return err
	}
	if err := s.driver.ExitRawMode(); err != nil {
		return err
	}
	s.mode = ModeInteractive
	s.logger.Debug().Msg("interactive session start")

	br := bridge.New(s.t, in, out, s.cfg.PollInterval, s.logger)
	bridgeErr := br.Start()
	if bridgeErr == nil {
		bridgeErr = br.Wait()
	}
	s.logger.Debug().Err(bridgeErr).Msg("interactive session end")

	s.mode = ModeClosed
	if err := s.driver.EnterRawMode(false); err != nil {
		if bridgeErr != nil {
			return bridgeErr
		}
		return err
	}
	s.mode = ModeRawExec
	return bridgeErr
}

// Interrupt sends a double Ctrl-C to stop running device code. Valid in
// any open mode.
func (s *Session) Interrupt() error {
	if s.mode == ModeClosed {
		return s.ensure(ModeRawExec)
	}
	return s.driver.Interrupt()
}

// SoftReset reboots the device interpreter and re-enters raw-REPL mode.
func (s *Session) SoftReset() error {
	if err := s.ensure(ModeRawExec); err != nil {
		return err
	}
	return s.driver.EnterRawMode(true)
}

// Close leaves raw-REPL mode best effort and closes the transport. The
// session cannot be reopened.
func (s *Session) Close() error {
	if s.mode == ModeRawExec {
		if err := s.driver.ExitRawMode(); err != nil {
			s.logger.Debug().Err(err).Msg("raw mode exit on close")
		}
	}
	s.mode = ModeClosed
	return s.t.Close()
}
