package bridge

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/paulober/pyboard-serial-com/internal/transport"
)

// outputDelim terminates the stdout section and again the error section
// of a raw-mode execution.
const outputDelim = 0x04

// WatchOutput is the non-interactive variant of the bridge: only the
// output loop, used to follow a detached raw-mode execution live. It
// renders device bytes to out until the execution's two terminating
// delimiters have been seen, then returns. The error-text section, if
// present, is forwarded like any other output.
//
// Sharing the transport with a pending execution is safe here only
// because the execution was submitted without a follow-up read: the
// watcher is the sole reader by construction, not by locking.
func WatchOutput(t transport.Transport, out io.Writer, poll time.Duration, stop <-chan struct{}) error {
	prev := t.ReadTimeout()
	if err := t.SetReadTimeout(poll); err != nil {
		return err
	}
	defer func() {
		_ = t.SetReadTimeout(prev)
	}()

	delims := 0
	one := make([]byte, 1)
	for delims < 2 {
		if stop != nil {
			select {
			case <-stop:
				return nil
			default:
			}
		}

		n, err := t.Read(one)
		if errors.Is(err, transport.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		if one[0] == outputDelim {
			delims++
			continue
		}
		if _, err := out.Write(renderByte(one[0])); err != nil {
			return fmt.Errorf("local write: %w", err)
		}
	}
	return nil
}
