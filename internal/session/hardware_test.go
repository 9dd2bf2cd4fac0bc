package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paulober/pyboard-serial-com/internal/config"
	"github.com/paulober/pyboard-serial-com/internal/logging"
	"github.com/paulober/pyboard-serial-com/internal/testutil"
	"github.com/paulober/pyboard-serial-com/internal/transport"
)

// Runs only against a real board, see testutil.SkipIfNoDevice.
func TestHardwareRoundTrip(t *testing.T) {
	device := testutil.SkipIfNoDevice(t)

	tp, err := transport.OpenSerial(device, 115200)
	require.NoError(t, err)

	s := New(tp, config.DefaultConfig().Protocol, logging.Component("hardware-test"))
	require.NoError(t, s.Open(true))
	defer s.Close()

	res, err := s.Exec([]byte("print(1+1)"), nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "2\r\n", string(res.Output))
}
