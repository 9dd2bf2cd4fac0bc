package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const breakDuration = 100 * time.Millisecond

// SerialPort adapts a go.bug.st/serial port to the Transport interface.
type SerialPort struct {
	port    serial.Port
	device  string
	timeout time.Duration
}

// OpenSerial opens the serial device at the given baud rate. The port
// starts in blocking-read mode (NoTimeout).
func OpenSerial(device string, baudRate int) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}

	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}

	return &SerialPort{
		port:    port,
		device:  device,
		timeout: NoTimeout,
	}, nil
}

// Device returns the serial device path.
func (s *SerialPort) Device() string {
	return s.device
}

// Read reads from the port, mapping timeout-expired empty reads to
// ErrReadTimeout so callers can tell "no data yet" from real data.
func (s *SerialPort) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if n == 0 && s.timeout != NoTimeout {
		return 0, ErrReadTimeout
	}
	if n == 0 {
		// A blocking read returning zero bytes means the port is gone.
		return 0, ErrDisconnected
	}
	return n, nil
}

// Write writes p to the port.
func (s *SerialPort) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return n, nil
}

// SetReadTimeout configures the port read timeout.
func (s *SerialPort) SetReadTimeout(d time.Duration) error {
	t := d
	if d == NoTimeout {
		t = serial.NoTimeout
	}
	if err := s.port.SetReadTimeout(t); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	s.timeout = d
	return nil
}

// ReadTimeout returns the currently configured read timeout.
func (s *SerialPort) ReadTimeout() time.Duration {
	return s.timeout
}

// Discard drops all pending input bytes.
func (s *SerialPort) Discard() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// SendBreak signals a serial break condition.
func (s *SerialPort) SendBreak() error {
	if err := s.port.Break(breakDuration); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// Close closes the port.
func (s *SerialPort) Close() error {
	return s.port.Close()
}
