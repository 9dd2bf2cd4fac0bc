// Package discovery enumerates serial ports and filters them down to
// attached MicroPython boards by USB vendor and product ID.
package discovery

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// Raspberry Pi USB vendor ID and the product IDs of boards exposing a
// MicroPython CDC serial interface.
const vendorRaspberryPi = "2E8A"

var knownProducts = map[string]struct{}{
	"0005": {}, // Pico / Pico W running MicroPython
}

// PortDetail describes one candidate board.
type PortDetail struct {
	Device       string
	SerialNumber string
}

// Ports returns the serial devices that look like MicroPython boards.
func Ports() ([]PortDetail, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	return filterPorts(ports), nil
}

// Exists reports whether the given device path belongs to a currently
// attached board.
func Exists(device string) (bool, error) {
	ports, err := Ports()
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if p.Device == device {
			return true, nil
		}
	}
	return false, nil
}

func filterPorts(ports []*enumerator.PortDetails) []PortDetail {
	var out []PortDetail
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, vendorRaspberryPi) {
			continue
		}
		if _, ok := knownProducts[strings.ToUpper(p.PID)]; !ok {
			continue
		}
		out = append(out, PortDetail{Device: p.Name, SerialNumber: p.SerialNumber})
	}
	return out
}
