package devices

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNoDeviceAvailable  = errors.New("discover: no available Chromecast receivers")
	ErrDeviceNotAvailable = errors.New("devicePicker: requested device not available")
)

// Device is a discovered Cast receiver.
type Device struct {
	Name        string
	Addr        string // host:port of the Cast v2 endpoint
	UUID        string
	Model       string
	IsAudioOnly bool
}

// DisplayName is the name shown in lists, with a hint for audio-only devices.
func (d Device) DisplayName() string {
	if d.IsAudioOnly {
		return d.Name + " (Chromecast Audio)"
	}
	return d.Name + " (Chromecast)"
}

// sortDevices orders devices by name, then address, so indexes are stable
// between two scans of the same network.
func sortDevices(devs []Device) {
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].Name != devs[j].Name {
			return devs[i].Name < devs[j].Name
		}
		return devs[i].Addr < devs[j].Addr
	})
}

// DevicePicker will pick the nth (1-based) device of the sorted list.
func DevicePicker(devs []Device, n int) (Device, error) {
	if n > len(devs) || len(devs) == 0 || n <= 0 {
		return Device{}, ErrDeviceNotAvailable
	}

	sorted := append([]Device(nil), devs...)
	sortDevices(sorted)
	return sorted[n-1], nil
}

// LookupByAddr finds the device listening on addr ("host:port" or "host").
func LookupByAddr(devs []Device, addr string) (Device, bool) {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	for _, d := range devs {
		if d.Addr == addr {
			return d, true
		}
		if host, _, err := net.SplitHostPort(d.Addr); err == nil && host == addr {
			return d, true
		}
	}
	return Device{}, false
}

// HostPortIsAlive checks if a device at the given address is reachable via TCP connection.
// Returns true if the connection succeeds within 2 seconds.
func HostPortIsAlive(address string) bool {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
