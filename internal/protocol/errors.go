package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEntrySequence indicates the device did not answer the raw-REPL
	// entry or submission handshake as expected. Recoverable by retrying
	// EnterRawMode.
	ErrEntrySequence = errors.New("could not enter raw repl")

	// ErrExecResponse indicates the device rejected an execution buffer.
	ErrExecResponse = errors.New("could not exec command")

	// ErrTimeout indicates the device stopped producing bytes before a
	// bounded protocol read completed.
	ErrTimeout = errors.New("timed out waiting for device")
)

// RemoteError is an exception raised on-device by executed code. The text
// is passed through verbatim and never interpreted; it is not fatal to the
// session.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote exception: %s", strings.TrimSpace(e.Text))
}
