package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/skratchdot/open-golang/open"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/devices"
	"go2tv.app/castbridge/internal/bridge"
	"go2tv.app/castbridge/internal/config"
	"go2tv.app/castbridge/internal/controls"
	"go2tv.app/castbridge/internal/interactive"
	"go2tv.app/castbridge/internal/mediastatus"
	"go2tv.app/castbridge/internal/uiqueue"
)

var (
	version       string
	build         string
	listPtr       = flag.Bool("l", false, "List all available Chromecast receivers.")
	targetPtr     = flag.String("t", "", "Attach to a specific Chromecast receiver (host or host:port).")
	listenPtr     = flag.String("listen", "", "Bridge listen address. Overrides the config file.")
	configPtr     = flag.String("config", "", "Path to a config file.")
	monitorPtr    = flag.Bool("monitor", false, "Show the terminal monitor.")
	openPtr       = flag.Bool("open", false, "Open the expanded controls descriptor in the browser.")
	saveConfigPtr = flag.Bool("save-config", false, "Write a default config file and exit.")
	versionPtr    = flag.Bool("version", false, "Print version.")
)

func main() {
	flag.Parse()
	checkVerflag()

	conf, err := config.GetAppConfig(*configPtr)
	check(err)

	exit, err := checkflags(conf)
	check(err)
	if exit {
		os.Exit(0)
	}

	check(run(conf))
}

func check(err error) {
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

func run(conf *config.Config) error {
	exitCTX, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, closeLog, err := newLogger(conf, *monitorPtr)
	if err != nil {
		return err
	}
	defer closeLog()

	dev, err := resolveDevice(exitCTX, conf)
	if err != nil {
		return err
	}
	logger.Info().Str("Device", dev.Name).Str("Addr", dev.Addr).Msg("using receiver")

	client, err := castprotocol.NewCastClient(dev.Addr, &castprotocol.Device{FriendlyName: dev.Name, Addr: dev.Addr})
	if err != nil {
		return errors.Wrap(err, "cast client error")
	}
	client.Logger = logger.With().Str("Component", "castprotocol").Logger()
	client.ProgressInterval = conf.ProgressInterval

	queue := uiqueue.New(conf.QueueSize, logger)
	go queue.Run(exitCTX)

	hub := bridge.NewHub(logger)
	emitters := mediastatus.Emitters{hub}

	var monitor *interactive.Monitor
	if *monitorPtr {
		monitor, err = interactive.NewMonitor(client, cancel)
		if err != nil {
			return err
		}
		emitters = append(emitters, monitor)
	}

	listener := mediastatus.NewListener(client, queue, emitters, logger)
	client.AddListener(listener)
	client.AddProgressListener(listener)
	listener.Reset()

	connectCTX, connectCancel := context.WithTimeout(exitCTX, conf.ConnectTimeout)
	err = client.Connect(connectCTX)
	connectCancel()
	if err != nil {
		return errors.Wrap(err, "connect error")
	}
	defer func() {
		_ = client.Close(false)
	}()

	server := bridge.NewServer(bridge.Options{
		Addr:              conf.Listen,
		AllowedOrigins:    conf.AllowedOrigins,
		CommandsPerSecond: conf.CommandsPerSecond,
		Controls:          controls.Default(),
	}, hub, client, logger)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Run(exitCTX)
		cancel()
		serverErr <- err
	}()

	if *openPtr {
		if err := open.Run(controlsURL(conf.Listen)); err != nil {
			logger.Warn().Err(err).Msg("failed to open browser")
		}
	}

	if monitor != nil {
		if err := monitor.Run(exitCTX); err != nil {
			logger.Error().Err(err).Msg("monitor failed")
		}
		cancel()
	}

	err = <-serverErr
	<-queue.Done()
	return err
}

func newLogger(conf *config.Config, monitor bool) (zerolog.Logger, func(), error) {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	closeFn := func() {}

	switch {
	case conf.Log.File != "":
		f, err := os.OpenFile(conf.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closeFn, errors.Wrap(err, "log file error")
		}
		out = f
		closeFn = func() { _ = f.Close() }
	case monitor:
		// The monitor owns the terminal.
		out = io.Discard
	}

	logger := zerolog.New(out).Level(conf.LogLevel()).With().Timestamp().Logger()
	return logger, closeFn, nil
}

func resolveDevice(ctx context.Context, conf *config.Config) (devices.Device, error) {
	if conf.Device != "" {
		return targetDevice(ctx, conf)
	}

	deviceList, err := devices.Discover(ctx, conf.DiscoveryTimeout)
	if err != nil {
		return devices.Device{}, errors.Wrap(err, "device discovery error")
	}

	dev, err := devices.DevicePicker(deviceList, 1)
	if err != nil {
		return devices.Device{}, errors.Wrap(err, "device picker error")
	}
	return dev, nil
}
