package devices

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// CapabilityVideoOut is the bitmask for video output capability (bit 0)
	CapabilityVideoOut = 1

	googlecastService = "_googlecast._tcp"
)

// mdnsQuery is swapped in tests.
var mdnsQuery = mdns.Query

// parseServiceEntry turns a _googlecast mDNS answer into a Device.
func parseServiceEntry(entry *mdns.ServiceEntry) (Device, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return Device{}, false
	}
	if !strings.Contains(entry.Name, "_googlecast") {
		return Device{}, false
	}

	dev := Device{
		Name: entry.Name,
		Addr: net.JoinHostPort(entry.AddrV4.String(), strconv.Itoa(entry.Port)),
	}

	for _, txt := range entry.InfoFields {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "fn":
			dev.Name = value
		case "id":
			dev.UUID = value
		case "md":
			dev.Model = value
		case "ca":
			dev.IsAudioOnly = isChromecastAudioOnly(value)
		}
	}

	if idx := strings.Index(dev.Name, "._googlecast"); idx > 0 {
		dev.Name = dev.Name[:idx]
	}

	return dev, true
}

// Discover queries every active interface for Cast receivers for up to
// timeout and returns the devices found, sorted by name.
func Discover(ctx context.Context, timeout time.Duration) ([]Device, error) {
	entriesCh := make(chan *mdns.ServiceEntry, 256)
	found := make(map[string]Device)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for entry := range entriesCh {
			if dev, ok := parseServiceEntry(entry); ok {
				found[dev.Addr] = dev
			}
		}
	}()

	queryIface := func(iface *net.Interface) {
		params := mdns.DefaultParams(googlecastService)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		params.WantUnicastResponse = true
		params.Logger = log.New(io.Discard, "", 0)
		params.Interface = iface
		_ = mdnsQuery(params)
	}

	interfaces := getActiveNetworkInterfaces()
	var wg sync.WaitGroup
	if len(interfaces) > 0 {
		for _, iface := range interfaces {
			wg.Add(1)
			go func(iface net.Interface) {
				defer wg.Done()
				queryIface(&iface)
			}(iface)
		}
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queryIface(nil)
		}()
	}

	queriesDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(queriesDone)
	}()

	var err error
	select {
	case <-queriesDone:
	case <-ctx.Done():
		err = ctx.Err()
		// Queries end on their own timeout; entries must keep draining until then.
		<-queriesDone
	}
	close(entriesCh)
	<-doneCh

	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	devs := make([]Device, 0, len(found))
	for _, d := range found {
		devs = append(devs, d)
	}
	if len(devs) == 0 {
		return nil, ErrNoDeviceAvailable
	}
	sortDevices(devs)
	return devs, nil
}

// getActiveNetworkInterfaces returns all network interfaces that are up,
// multicast-capable, not loopback, and have an IPv4 address.
func getActiveNetworkInterfaces() []net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil && !ipnet.IP.IsLoopback() {
				active = append(active, iface)
				break
			}
		}
	}

	return active
}

// isChromecastAudioOnly checks if a device is audio-only based on the "ca" capability field.
// The "ca" field in mDNS TXT records is a bitmask where bit 0 (value 1) indicates Video Out support.
// Returns true if audio-only, false if it supports video or if parsing fails.
func isChromecastAudioOnly(caField string) bool {
	ca, err := strconv.Atoi(caField)
	if err != nil {
		return false
	}
	return (ca & CapabilityVideoOut) == 0
}
