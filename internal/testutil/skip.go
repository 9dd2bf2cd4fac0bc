// Package testutil provides shared helpers for picoserd tests.
package testutil

import (
	"os"
	"testing"
)

// DeviceEnv names the env var pointing at a real serial device for
// hardware-in-the-loop tests.
const DeviceEnv = "PICOSERD_TEST_DEVICE"

// SkipIfNoDevice skips the test unless PICOSERD_TEST_DEVICE points at a
// connected MicroPython board. Everything else runs against the fake
// device.
func SkipIfNoDevice(t *testing.T) string {
	t.Helper()
	device := os.Getenv(DeviceEnv)
	if device == "" {
		t.Skipf("skipping hardware test: %s is not set", DeviceEnv)
	}
	return device
}
