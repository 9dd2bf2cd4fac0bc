package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/logging"
	"github.com/paulober/pyboard-serial-com/internal/testutil"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

// testProtocolConfig shrinks the timing constants so protocol tests run
// fast while keeping the same code paths.
func testProtocolConfig() config.ProtocolConfig {
	cfg := config.DefaultConfig().Protocol
	cfg.PollInterval = 2 * time.Millisecond
	cfg.EntryTimeout = 250 * time.Millisecond
	cfg.InterChunkDelay = 0
	return cfg
}

func newTestDriver(t *testing.T) (*Driver, *testutil.FakeDevice) {
	t.Helper()
	dev := testutil.NewFakeDevice()
	drv := NewDriver(dev.Pipe, testProtocolConfig(), logging.Component("protocol-test"))
	return drv, dev
}

func TestEnterRawMode(t *testing.T) {
	drv, _ := newTestDriver(t)
	require.NoError(t, drv.EnterRawMode(false))
}

func TestEnterRawModeSoftReset(t *testing.T) {
	drv, dev := newTestDriver(t)
	require.NoError(t, drv.EnterRawMode(true))
	require.Equal(t, 1, dev.Reboots())
}

func TestEnterRawModeRestoresReadTimeout(t *testing.T) {
	drv, dev := newTestDriver(t)
	require.NoError(t, dev.Pipe.SetReadTimeout(123*time.Millisecond))

	require.NoError(t, drv.EnterRawMode(false))
	require.Equal(t, 123*time.Millisecond, dev.Pipe.ReadTimeout())
}

func TestEnterRawModeBadBannerFails(t *testing.T) {
	pipe := transport.NewPipe()
	pipe.SetOnWrite(func(data []byte) {
		if bytes.Contains(data, []byte{0x01}) {
			pipe.FeedInput([]byte("something unexpected\r\n"))
		}
	})
	drv := NewDriver(pipe, testProtocolConfig(), logging.Component("protocol-test"))

	err := drv.EnterRawMode(false)
	require.ErrorIs(t, err, ErrEntrySequence)
	require.Contains(t, err.Error(), "unexpected")
}

func TestExecCapturesOutput(t *testing.T) {
	drv, dev := newTestDriver(t)
	dev.ExecFunc = func(code string) (string, string) {
		if code == "print(1+1)" {
			return "2\r\n", ""
		}
		return "", ""
	}

	require.NoError(t, drv.EnterRawMode(false))

	result, err := drv.Exec([]byte("print(1+1)"), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "2\r\n", string(result.Output))
	require.Empty(t, result.ErrText)
	require.Equal(t, []string{"print(1+1)"}, dev.Execs())
}

func TestExecRemoteException(t *testing.T) {
	drv, dev := newTestDriver(t)
	dev.ExecFunc = func(code string) (string, string) {
		return "", "Traceback (most recent call last):\r\n  File \"<stdin>\", line 1, in <module>\r\nValueError: x\r\n"
	}

	require.NoError(t, drv.EnterRawMode(false))

	result, err := drv.Exec([]byte("raise ValueError('x')"), nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, string(result.ErrText), "ValueError: x")
}

func TestExecStreamsToSink(t *testing.T) {
	drv, dev := newTestDriver(t)
	dev.ExecFunc = func(code string) (string, string) {
		return "chunk one\r\nchunk two\r\n", ""
	}

	require.NoError(t, drv.EnterRawMode(false))

	var sink bytes.Buffer
	result, err := drv.Exec([]byte("run()"), &sink)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "chunk one\r\nchunk two\r\n", sink.String())
	// Streamed output is not duplicated in the result.
	require.Empty(t, result.Output)
}

func TestExecChunksLargeBuffers(t *testing.T) {
	drv, dev := newTestDriver(t)

	require.NoError(t, drv.EnterRawMode(false))

	code := "x = '" + strings.Repeat("a", 1000) + "'"
	result, err := drv.Exec([]byte(code), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, []string{code}, dev.Execs())
}

// Mode transitions must be idempotent with respect to subsequent
// operations: enter, exit, re-enter, then execute.
func TestRawModeRoundTrip(t *testing.T) {
	drv, dev := newTestDriver(t)
	dev.ExecFunc = func(code string) (string, string) { return "ok\r\n", "" }

	require.NoError(t, drv.EnterRawMode(false))
	require.NoError(t, drv.ExitRawMode())
	require.NoError(t, drv.EnterRawMode(false))

	result, err := drv.Exec([]byte("print('ok')"), nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "ok\r\n", string(result.Output))
}

func TestExecNoFollowReturnsBeforeCompletion(t *testing.T) {
	drv, dev := newTestDriver(t)

	require.NoError(t, drv.EnterRawMode(false))
	require.NoError(t, drv.ExecNoFollow([]byte("import time\ntime.sleep(60)")))
	require.Equal(t, 1, len(dev.Execs()))
}

func TestInterruptWritesDoubleCtrlC(t *testing.T) {
	pipe := transport.NewPipe()
	drv := NewDriver(pipe, testProtocolConfig(), logging.Component("protocol-test"))

	require.NoError(t, drv.Interrupt())
	require.Equal(t, "\r\x03\x03", string(pipe.TakeWrites()))
}

func TestExecDisconnectedTransport(t *testing.T) {
	pipe := transport.NewPipe()
	require.NoError(t, pipe.Close())
	drv := NewDriver(pipe, testProtocolConfig(), logging.Component("protocol-test"))

	err := drv.EnterRawMode(false)
	require.ErrorIs(t, err, transport.ErrDisconnected)
}

func TestRemoteErrorMessage(t *testing.T) {
	err := &RemoteError{Text: "ValueError: x\r\n"}
	require.Contains(t, err.Error(), "ValueError: x")
}
