package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"go2tv.app/castbridge/devices"
	"go2tv.app/castbridge/internal/config"
)

const defaultCastPort = "8009"

var errNoCombi = errors.New("can't combine -l with other flags")

func checkflags(conf *config.Config) (bool, error) {
	if *saveConfigPtr {
		path, err := config.SaveAppConfig()
		if err != nil {
			return false, errors.Wrap(err, "checkflags error")
		}
		fmt.Println(path)
		return true, nil
	}

	list, err := checkLflag(conf)
	if err != nil {
		return false, errors.Wrap(err, "checkflags error")
	}
	if list {
		return true, nil
	}

	if err := checkTflag(conf); err != nil {
		return false, errors.Wrap(err, "checkflags error")
	}

	if *listenPtr != "" {
		if _, _, err := net.SplitHostPort(*listenPtr); err != nil {
			return false, errors.Wrap(err, "checkflags error")
		}
		conf.Listen = *listenPtr
	}

	return false, nil
}

func checkLflag(conf *config.Config) (bool, error) {
	if !*listPtr {
		return false, nil
	}

	flagsEnabled := 0
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			flagsEnabled++
		}
	})
	if flagsEnabled > 1 {
		return false, errNoCombi
	}

	if err := listFlagFunction(conf); err != nil {
		return false, errors.Wrap(err, "checkLflag error")
	}
	return true, nil
}

func listFlagFunction(conf *config.Config) error {
	deviceList, err := devices.Discover(context.Background(), conf.DiscoveryTimeout)
	if err != nil {
		return err
	}

	fmt.Println()

	for q, dev := range deviceList {
		boldStart := ""
		boldEnd := ""

		if runtime.GOOS == "linux" {
			boldStart = "\033[1m"
			boldEnd = "\033[0m"
		}
		fmt.Printf("%sDevice %v%s\n", boldStart, q+1, boldEnd)
		fmt.Printf("%s--------%s\n", boldStart, boldEnd)
		fmt.Printf("%sName:%s  %s\n", boldStart, boldEnd, dev.DisplayName())
		if dev.Model != "" {
			fmt.Printf("%sModel:%s %s\n", boldStart, boldEnd, dev.Model)
		}
		fmt.Printf("%sAddr:%s  %s\n", boldStart, boldEnd, dev.Addr)
		fmt.Println()
	}

	return nil
}

func checkTflag(conf *config.Config) error {
	if *targetPtr == "" {
		return nil
	}

	addr, err := normalizeTarget(*targetPtr)
	if err != nil {
		return errors.Wrap(err, "checkTflag parse error")
	}
	conf.Device = addr
	return nil
}

// normalizeTarget turns "host", "host:port" or "http://host:port" into
// "host:port", filling in the Cast port.
func normalizeTarget(target string) (string, error) {
	target = strings.TrimPrefix(strings.TrimPrefix(target, "http://"), "https://")
	target = strings.TrimSuffix(target, "/")
	if target == "" {
		return "", errors.New("empty target")
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return net.JoinHostPort(target, defaultCastPort), nil
	}
	if host == "" {
		return "", fmt.Errorf("missing host in %q", target)
	}
	return net.JoinHostPort(host, port), nil
}

// targetDevice resolves the configured receiver. A short discovery scan
// supplies its friendly name when the receiver answers mDNS.
func targetDevice(ctx context.Context, conf *config.Config) (devices.Device, error) {
	addr, err := normalizeTarget(conf.Device)
	if err != nil {
		return devices.Device{}, errors.Wrap(err, "target error")
	}

	if !devices.HostPortIsAlive(addr) {
		return devices.Device{}, errors.Wrap(devices.ErrDeviceNotAvailable, addr)
	}

	if deviceList, err := devices.Discover(ctx, conf.DiscoveryTimeout); err == nil {
		if dev, ok := devices.LookupByAddr(deviceList, addr); ok {
			return dev, nil
		}
	}
	return devices.Device{Addr: addr}, nil
}

// controlsURL is the browser URL of the controls descriptor for a listen
// address.
func controlsURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/controls"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/controls"
}

func checkVerflag() {
	if *versionPtr {
		fmt.Printf("castbridge Version: %s, ", version)
		fmt.Printf("Build: %s\n", build)
		os.Exit(0)
	}
}
