package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/internal/metrics"
	"go2tv.app/castbridge/internal/utils"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrRateLimited    = errors.New("rate limited")
)

const sniffTimeout = 5 * time.Second

// Controller is the remote control surface of the cast session.
type Controller interface {
	Load(req castprotocol.LoadRequest) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds int) error
	SetVolume(level float64) error
	SetMuted(muted bool) error
}

var _ Controller = (*castprotocol.CastClient)(nil)

// Command is an inbound client frame.
type Command struct {
	ID      string         `json:"id,omitempty"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// CommandResult is the payload of a GoogleCast:CommandResult frame.
type CommandResult struct {
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type loadArgs struct {
	URL              string  `mapstructure:"url"`
	ContentType      string  `mapstructure:"contentType"`
	StartTime        int     `mapstructure:"startTime"`
	Duration         float64 `mapstructure:"duration"`
	Title            string  `mapstructure:"title"`
	Subtitle         string  `mapstructure:"subtitle"`
	ImageURL         string  `mapstructure:"imageUrl"`
	SubtitleURL      string  `mapstructure:"subtitleUrl"`
	SubtitleLanguage string  `mapstructure:"subtitleLanguage"`
	Live             bool    `mapstructure:"live"`
	Autoplay         *bool   `mapstructure:"autoplay"`
}

type seekArgs struct {
	Position int `mapstructure:"position"`
}

type volumeArgs struct {
	Level float64 `mapstructure:"level"`
}

type muteArgs struct {
	Muted bool `mapstructure:"muted"`
}

// Dispatcher decodes commands and forwards them to a Controller.
type Dispatcher struct {
	ctrl  Controller
	sniff func(ctx context.Context, url string) (string, error)
	log   zerolog.Logger
}

// NewDispatcher creates a dispatcher for ctrl. Load requests without a
// content type have it sniffed from the media URL.
func NewDispatcher(ctrl Controller, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ctrl:  ctrl,
		sniff: utils.GetMimeDetailsFromURL,
		log:   logger.With().Str("Component", "commands").Logger(),
	}
}

// Dispatch runs cmd and reports the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) CommandResult {
	res := CommandResult{ID: cmd.ID, Command: cmd.Command}

	if err := d.run(ctx, cmd); err != nil {
		d.log.Error().Str("Method", "Dispatch").Str("Command", cmd.Command).Err(err).Msg("command failed")
		metrics.CommandsTotal.WithLabelValues(commandLabel(cmd.Command), "error").Inc()
		res.Error = err.Error()
		return res
	}

	metrics.CommandsTotal.WithLabelValues(cmd.Command, "ok").Inc()
	res.OK = true
	return res
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) error {
	switch cmd.Command {
	case "load":
		var args loadArgs
		if err := decodeArgs(cmd.Args, &args); err != nil {
			return err
		}
		return d.load(ctx, args)
	case "play":
		return d.ctrl.Play()
	case "pause":
		return d.ctrl.Pause()
	case "stop":
		return d.ctrl.Stop()
	case "seek":
		var args seekArgs
		if err := decodeArgs(cmd.Args, &args); err != nil {
			return err
		}
		if args.Position < 0 {
			return fmt.Errorf("seek: negative position %d", args.Position)
		}
		return d.ctrl.Seek(args.Position)
	case "volume":
		var args volumeArgs
		if err := decodeArgs(cmd.Args, &args); err != nil {
			return err
		}
		if args.Level < 0 || args.Level > 1 {
			return fmt.Errorf("volume: level %v out of range [0, 1]", args.Level)
		}
		return d.ctrl.SetVolume(args.Level)
	case "mute":
		var args muteArgs
		if err := decodeArgs(cmd.Args, &args); err != nil {
			return err
		}
		return d.ctrl.SetMuted(args.Muted)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func (d *Dispatcher) load(ctx context.Context, args loadArgs) error {
	if args.URL == "" {
		return errors.New("load: url is required")
	}

	contentType := args.ContentType
	if contentType == "" {
		sctx, cancel := context.WithTimeout(ctx, sniffTimeout)
		defer cancel()
		mime, err := d.sniff(sctx, args.URL)
		if err != nil {
			return fmt.Errorf("load: content type: %w", err)
		}
		contentType = mime
	}

	autoplay := true
	if args.Autoplay != nil {
		autoplay = *args.Autoplay
	}

	return d.ctrl.Load(castprotocol.LoadRequest{
		URL:              args.URL,
		ContentType:      contentType,
		StartTime:        args.StartTime,
		Duration:         args.Duration,
		Title:            args.Title,
		Subtitle:         args.Subtitle,
		ImageURL:         args.ImageURL,
		SubtitleURL:      args.SubtitleURL,
		SubtitleLanguage: args.SubtitleLanguage,
		Live:             args.Live,
		Autoplay:         autoplay,
	})
}

func decodeArgs(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("decodeArgs: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}

// commandLabel keeps the metrics label set bounded.
func commandLabel(name string) string {
	switch name {
	case "load", "play", "pause", "stop", "seek", "volume", "mute":
		return name
	}
	return "unknown"
}
