// Package mediastatus turns Cast session notifications into bridge events:
// a status update on every media status, one-shot playback started/ended
// milestones per media item, and progress while playing.
package mediastatus

import (
	"github.com/rs/zerolog"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/internal/metrics"
)

// Event names, as seen by bridge clients.
const (
	EventMediaStatusUpdated   = "GoogleCast:MediaStatusUpdated"
	EventMediaPlaybackStarted = "GoogleCast:MediaPlaybackStarted"
	EventMediaPlaybackEnded   = "GoogleCast:MediaPlaybackEnded"
	EventMediaProgressUpdated = "GoogleCast:MediaProgressUpdated"
)

// Event is one message for the host bridge. Body is a StatusEnvelope or a
// ProgressEnvelope, never shared between two events.
type Event struct {
	Name string
	Body any
}

// Emitter delivers events to the host bridge.
type Emitter interface {
	Emit(Event)
}

// Emitters fans an event out to several emitters in order.
type Emitters []Emitter

// Emit implements Emitter.
func (e Emitters) Emit(ev Event) {
	for _, em := range e {
		em.Emit(ev)
	}
}

// StatusSource gives read access to the session's current media status and
// device. MediaStatus must return a copy the caller may keep.
type StatusSource interface {
	MediaStatus() *castprotocol.MediaStatus
	Device() *castprotocol.Device
}

// Executor is the serial UI-affine queue.
type Executor interface {
	Post(task func()) error
}

// Listener implements castprotocol.MediaListener and
// castprotocol.ProgressListener. Its playback state is only touched by
// tasks running on the executor.
type Listener struct {
	source  StatusSource
	queue   Executor
	emitter Emitter
	log     zerolog.Logger

	state PlaybackState
}

var (
	_ castprotocol.MediaListener    = (*Listener)(nil)
	_ castprotocol.ProgressListener = (*Listener)(nil)
)

// NewListener creates a listener reading from source and emitting through
// emitter, with every handler marshaled onto queue.
func NewListener(source StatusSource, queue Executor, emitter Emitter, logger zerolog.Logger) *Listener {
	return &Listener{
		source:  source,
		queue:   queue,
		emitter: emitter,
		log:     logger.With().Str("Component", "mediastatus").Logger(),
	}
}

// Reset clears the playback state. Call it when the listener is attached
// to a new or re-established session.
func (l *Listener) Reset() {
	l.post("Reset", func() {
		l.state = PlaybackState{}
	})
}

// OnStatusUpdated captures the current status and device and handles them
// on the queue.
func (l *Listener) OnStatusUpdated() {
	status := l.source.MediaStatus()
	if status == nil {
		return
	}
	device := l.source.Device()
	l.post("OnStatusUpdated", func() {
		l.handleStatus(status, device)
	})
}

func (l *Listener) handleStatus(status *castprotocol.MediaStatus, device *castprotocol.Device) {
	if status.CurrentItemID != l.state.CurrentItemID {
		l.log.Debug().Str("Method", "OnStatusUpdated").Int("ItemId", status.CurrentItemID).Msg("media item changed")
	}
	started, ended := l.state.Observe(status.CurrentItemID, status.PlayerStateCode(), status.IdleReasonCode())

	l.emit(EventMediaStatusUpdated, StatusEnvelope{MediaStatus: BuildSnapshot(status, device)})

	if started {
		l.emit(EventMediaPlaybackStarted, StatusEnvelope{MediaStatus: BuildSnapshot(status, device)})
	}

	if ended {
		l.emit(EventMediaPlaybackEnded, StatusEnvelope{MediaStatus: BuildSnapshot(status, device)})
	}
}

// OnProgressUpdated emits a progress event while the media is playing.
func (l *Listener) OnProgressUpdated(progressMs, durationMs int64) {
	status := l.source.MediaStatus()
	if status == nil {
		return
	}
	playerState := status.PlayerStateCode()
	l.post("OnProgressUpdated", func() {
		if playerState != castprotocol.PlayerStatePlaying {
			return
		}
		l.emit(EventMediaProgressUpdated, NewProgress(progressMs, durationMs))
	})
}

func (l *Listener) OnMetadataUpdated()           {}
func (l *Listener) OnQueueStatusUpdated()        {}
func (l *Listener) OnPreloadStatusUpdated()      {}
func (l *Listener) OnSendingRemoteMediaRequest() {}
func (l *Listener) OnAdBreakStatusUpdated()      {}

// State returns a copy of the playback state. It must only be called from
// a task running on the queue.
func (l *Listener) State() PlaybackState {
	return l.state
}

func (l *Listener) emit(name string, body any) {
	metrics.EventsEmittedTotal.WithLabelValues(name).Inc()
	l.emitter.Emit(Event{Name: name, Body: body})
}

func (l *Listener) post(method string, task func()) {
	if err := l.queue.Post(task); err != nil {
		l.log.Warn().Str("Method", method).Err(err).Msg("dropped notification")
	}
}
