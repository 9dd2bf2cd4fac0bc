package testutil

import (
	"sync"

	"github.com/paulober/pyboard-serial-com/internal/transport"
)

const (
	rawBanner      = "raw REPL; CTRL-B to exit\r\n>"
	softReboot     = "soft reboot\r\n"
	friendlyPrompt = ">>> "
)

// FakeDevice emulates a MicroPython board behind a transport.Pipe: it
// consumes the control bytes the host writes and feeds back the banners,
// prompts and execution framing real firmware produces. Tests script the
// interesting parts via ExecFunc and TabFunc.
type FakeDevice struct {
	Pipe *transport.Pipe

	// ExecFunc produces (stdout, error text) for an executed buffer.
	// Nil means every buffer succeeds with no output.
	ExecFunc func(code string) (out string, errText string)

	// TabFunc produces the raw bytes the device prints in response to a
	// tab on the given partial line. Nil means no reaction.
	TabFunc func(line string) string

	// FriendlyBanner is printed when the host switches to the friendly
	// prompt.
	FriendlyBanner string

	mu          sync.Mutex
	raw         bool
	justEntered bool
	pending     []byte
	line        []byte
	execs       []string
	reboots     int
}

// NewFakeDevice creates a fake device at its friendly prompt.
func NewFakeDevice() *FakeDevice {
	d := &FakeDevice{
		Pipe:           transport.NewPipe(),
		FriendlyBanner: "MicroPython v1.19.1 on 2022-06-18; Raspberry Pi Pico with RP2040\r\n",
	}
	d.Pipe.SetOnWrite(d.consume)
	return d
}

// Execs returns the buffers executed so far.
func (d *FakeDevice) Execs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.execs...)
}

// Reboots returns how many soft resets were requested.
func (d *FakeDevice) Reboots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reboots
}

func (d *FakeDevice) consume(data []byte) {
	for _, b := range data {
		d.consumeByte(b)
	}
}

func (d *FakeDevice) consumeByte(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.raw {
		d.consumeRaw(b)
	} else {
		d.consumeFriendly(b)
	}
}

// emit feeds device output back to the host. Called with d.mu held; safe
// because Pipe.FeedInput takes only the pipe's own lock.
func (d *FakeDevice) emit(s string) {
	d.Pipe.FeedInput([]byte(s))
}

func (d *FakeDevice) consumeRaw(b byte) {
	switch b {
	case 0x01: // re-entry
		d.pending = nil
		d.justEntered = true
		d.emit(rawBanner)
	case 0x02:
		d.raw = false
		d.line = nil
		d.emit(d.FriendlyBanner + friendlyPrompt)
	case 0x03:
		d.pending = nil
	case 0x04:
		if d.justEntered && len(d.pending) == 0 {
			d.reboots++
			d.emit(softReboot + rawBanner)
			return
		}
		d.execute()
	case '\r':
		// ignored in raw mode
	default:
		d.justEntered = false
		d.pending = append(d.pending, b)
	}
}

func (d *FakeDevice) execute() {
	code := string(d.pending)
	d.pending = nil
	d.justEntered = false
	d.execs = append(d.execs, code)

	out, errText := "", ""
	if d.ExecFunc != nil {
		out, errText = d.ExecFunc(code)
	}
	d.emit("OK" + out + "\x04" + errText + "\x04>")
}

func (d *FakeDevice) consumeFriendly(b byte) {
	switch b {
	case 0x01:
		d.raw = true
		d.pending = nil
		d.justEntered = true
		d.emit(rawBanner)
	case 0x03:
		d.line = nil
		d.emit("\r\n" + friendlyPrompt)
	case 0x09:
		if d.TabFunc != nil {
			d.emit(d.TabFunc(string(d.line)))
		}
	case '\r':
		d.line = nil
		d.emit("\r\n" + friendlyPrompt)
	default:
		// The friendly prompt echoes typed bytes.
		d.line = append(d.line, b)
		d.emit(string(b))
	}
}
