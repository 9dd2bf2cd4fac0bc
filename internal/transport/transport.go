// Package transport abstracts the full-duplex byte stream to the device.
package transport

import (
	"errors"
	"time"
)

// NoTimeout disables the read timeout: reads block until data arrives.
const NoTimeout time.Duration = -1

var (
	// ErrReadTimeout indicates a read saw no data within the configured
	// read timeout. Only possible when a timeout is set.
	ErrReadTimeout = errors.New("transport read timeout")

	// ErrDisconnected indicates the device was unplugged or the
	// underlying stream failed. Fatal to the owning session.
	ErrDisconnected = errors.New("transport disconnected")
)

// Transport is a byte-accurate, possibly slow, full-duplex stream to the
// device. It provides no framing of its own.
//
// The read timeout is mutable shared state: any component that changes it
// must restore the previous value on every exit path.
type Transport interface {
	// Read reads available bytes. With a timeout set, a read that sees
	// no data within the timeout returns ErrReadTimeout. With NoTimeout
	// it blocks until data arrives or the stream fails.
	Read(p []byte) (int, error)

	// Write writes p to the device.
	Write(p []byte) (int, error)

	// SetReadTimeout configures the read timeout. NoTimeout blocks.
	SetReadTimeout(d time.Duration) error

	// ReadTimeout returns the currently configured read timeout.
	ReadTimeout() time.Duration

	// Discard drops all pending input bytes.
	Discard() error

	// SendBreak signals a serial break condition to the device.
	SendBreak() error

	// Close closes the stream.
	Close() error
}
