// Package interactive renders the bridge events on a terminal screen and
// maps a few keys to remote control commands.
package interactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/encoding"
	"github.com/mattn/go-runewidth"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/internal/mediastatus"
)

const volumeStep = 0.05

// Remote is the part of the cast session the monitor drives.
type Remote interface {
	GetStatus() (*castprotocol.CastStatus, error)
	Play() error
	Pause() error
	Stop() error
	SetVolume(level float64) error
	SetMuted(muted bool) error
}

// view is what the screen shows. It is rebuilt from events only.
type view struct {
	title       string
	subtitle    string
	device      string
	playerState int
	position    int
	duration    int
	hasDuration bool
	muted       bool
	milestone   string
}

// Monitor is a terminal screen fed by bridge events.
type Monitor struct {
	Current     tcell.Screen
	Remote      Remote
	exitCTXfunc context.CancelFunc

	mu      sync.RWMutex
	view    view
	started bool
}

var _ mediastatus.Emitter = (*Monitor)(nil)

// NewMonitor creates a monitor. cancel is called when the user exits.
func NewMonitor(remote Remote, cancel context.CancelFunc) (*Monitor, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	return &Monitor{
		Current:     s,
		Remote:      remote,
		exitCTXfunc: cancel,
	}, nil
}

// Emit implements mediastatus.Emitter.
func (p *Monitor) Emit(ev mediastatus.Event) {
	p.mu.Lock()
	p.view = applyEvent(p.view, ev)
	started := p.started
	p.mu.Unlock()

	if started {
		p.draw()
	}
}

func applyEvent(v view, ev mediastatus.Event) view {
	switch body := ev.Body.(type) {
	case mediastatus.StatusEnvelope:
		s := body.MediaStatus
		v.title, _ = s.Title()
		v.subtitle, _ = s.Subtitle()
		if name, ok := s.DeviceName(); ok {
			v.device = name
		}
		v.playerState = s.PlayerState()
		v.muted = s.Muted()
		v.position = s.StreamPosition()
		v.duration, v.hasDuration = s.StreamDuration()
	case mediastatus.ProgressEnvelope:
		v.position = body.MediaProgress.Progress
		v.duration = body.MediaProgress.Duration
		v.hasDuration = body.MediaProgress.Duration > 0
	}

	switch ev.Name {
	case mediastatus.EventMediaPlaybackStarted:
		v.milestone = "Playback started"
	case mediastatus.EventMediaPlaybackEnded:
		v.milestone = "Playback ended"
	}
	return v
}

func (p *Monitor) emitStr(x, y int, style tcell.Style, str string) {
	s := p.Current
	for _, c := range str {
		var comb []rune
		w := runewidth.RuneWidth(c)
		if w == 0 {
			comb = []rune{c}
			c = ' '
			w = 1
		}
		s.SetContent(x, y, c, comb, style)
		x += w
	}
}

func (p *Monitor) emitCentered(y int, style tcell.Style, str string) {
	w, _ := p.Current.Size()
	p.emitStr(w/2-runewidth.StringWidth(str)/2, y, style, str)
}

func (p *Monitor) draw() {
	p.mu.RLock()
	v := p.view
	p.mu.RUnlock()

	s := p.Current
	_, h := s.Size()
	boldStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Bold(true)
	blinkStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite).Blink(true)

	s.Clear()

	p.emitStr(1, 1, tcell.StyleDefault, "Press ESC to stop and exit.")
	if v.device != "" {
		p.emitStr(1, 2, tcell.StyleDefault, "Device: "+v.device)
	}

	title := v.title
	if title == "" {
		title = "-"
	}
	p.emitCentered(h/2-4, tcell.StyleDefault, "Title: "+title)
	if v.subtitle != "" {
		p.emitCentered(h/2-3, tcell.StyleDefault, v.subtitle)
	}

	state := stateText(v.playerState)
	switch v.playerState {
	case castprotocol.PlayerStateBuffering, castprotocol.PlayerStateLoading, castprotocol.PlayerStateUnknown:
		p.emitCentered(h/2-1, blinkStyle, state)
	default:
		p.emitCentered(h/2-1, boldStyle, state)
	}
	p.emitCentered(h/2, tcell.StyleDefault, positionText(v))

	if v.muted {
		p.emitCentered(h/2+1, blinkStyle, "MUTED")
	}
	if v.milestone != "" {
		p.emitCentered(h/2+2, tcell.StyleDefault, v.milestone)
	}

	p.emitCentered(h/2+4, tcell.StyleDefault, `"p" (Play/Pause)`)
	p.emitCentered(h/2+5, tcell.StyleDefault, `"m" (Mute/Unmute)`)
	p.emitCentered(h/2+6, tcell.StyleDefault, `"Page Up" "Page Down" (Volume Up/Down)`)
	s.Show()
}

// Run takes over the terminal until ctx ends or the user exits.
func (p *Monitor) Run(ctx context.Context) error {
	encoding.Register()
	s := p.Current
	if err := s.Init(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	defStyle := tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite)
	s.SetStyle(defStyle)

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	p.draw()

	go func() {
		<-ctx.Done()
		p.fini()
	}()

	for {
		switch ev := s.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			s.Sync()
			p.draw()
		case *tcell.EventKey:
			p.HandleKeyEvent(ev)
		}
	}
}

// HandleKeyEvent maps a key press to a remote command.
func (p *Monitor) HandleKeyEvent(ev *tcell.EventKey) {
	p.handleKey(ev.Key(), ev.Rune())
}

func (p *Monitor) handleKey(key tcell.Key, r rune) {
	if p.Remote == nil {
		return
	}

	p.mu.RLock()
	v := p.view
	p.mu.RUnlock()

	switch key {
	case tcell.KeyEscape:
		_ = p.Remote.Stop()
		p.exitCTXfunc()
		return
	case tcell.KeyPgUp, tcell.KeyPgDn:
		status, err := p.Remote.GetStatus()
		if err != nil {
			return
		}
		delta := volumeStep
		if key == tcell.KeyPgDn {
			delta = -delta
		}
		_ = p.Remote.SetVolume(clampVolume(status.Volume + delta))
		return
	}

	switch r {
	case 'p':
		switch playPauseAction(v.playerState) {
		case "Pause":
			_ = p.Remote.Pause()
		case "Play":
			_ = p.Remote.Play()
		}
	case 'm':
		status, err := p.Remote.GetStatus()
		if err != nil {
			return
		}
		_ = p.Remote.SetMuted(!status.Muted)
	}
}

func (p *Monitor) fini() {
	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()

	if started {
		p.Current.Fini()
	}
}

func stateText(playerState int) string {
	switch playerState {
	case castprotocol.PlayerStatePlaying:
		return "Playing"
	case castprotocol.PlayerStatePaused:
		return "Paused"
	case castprotocol.PlayerStateBuffering:
		return "Buffering..."
	case castprotocol.PlayerStateLoading:
		return "Loading..."
	case castprotocol.PlayerStateIdle:
		return "Stopped"
	default:
		return "Waiting for status..."
	}
}

// playPauseAction returns the command the play/pause key sends, or "" when
// there is nothing to toggle.
func playPauseAction(playerState int) string {
	switch playerState {
	case castprotocol.PlayerStatePlaying, castprotocol.PlayerStateBuffering:
		return "Pause"
	case castprotocol.PlayerStatePaused:
		return "Play"
	default:
		return ""
	}
}

func positionText(v view) string {
	if !v.hasDuration {
		return formatClock(v.position)
	}
	return formatClock(v.position) + " / " + formatClock(v.duration)
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func clampVolume(level float64) float64 {
	switch {
	case level > 1.0:
		return 1.0
	case level < 0.0:
		return 0.0
	}
	return level
}
