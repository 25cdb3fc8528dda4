package mediastatus

import (
	"encoding/json"

	"go2tv.app/castbridge/castprotocol"
)

type optional[T any] struct {
	value T
	set   bool
}

func some[T any](v T) optional[T] { return optional[T]{value: v, set: true} }

func (o optional[T]) get() (T, bool) { return o.value, o.set }

// Snapshot is the flattened view of a media status sent to bridge clients.
// It has no setters: every emission builds a new one with BuildSnapshot.
type Snapshot struct {
	playerState    int
	idleReason     int
	muted          bool
	streamPosition int

	deviceName       optional[string]
	streamDuration   optional[int]
	subtitleLanguage optional[string]
	audioLanguage    optional[string]
	title            optional[string]
	subtitle         optional[string]
	imageURL         optional[string]
}

// BuildSnapshot flattens status. device may be nil.
func BuildSnapshot(status *castprotocol.MediaStatus, device *castprotocol.Device) Snapshot {
	s := Snapshot{
		playerState:    status.PlayerStateCode(),
		idleReason:     status.IdleReasonCode(),
		muted:          status.IsMute(),
		streamPosition: msToSeconds(status.StreamPositionMs()),
	}

	if device != nil {
		s.deviceName = some(device.FriendlyName)
	}

	info := status.Media
	if info == nil {
		return s
	}

	for _, track := range info.Tracks {
		for _, id := range status.ActiveTrackIDs {
			if track.TrackID != id {
				continue
			}
			// Several active tracks of one type: the last one scanned wins.
			switch track.TypeCode() {
			case castprotocol.TrackTypeText:
				s.subtitleLanguage = some(track.Language)
			case castprotocol.TrackTypeAudio:
				s.audioLanguage = some(track.Language)
			}
		}
	}

	s.streamDuration = some(msToSeconds(info.StreamDurationMs()))

	meta := info.Metadata
	if meta == nil {
		return s
	}
	if meta.Title != "" {
		s.title = some(meta.Title)
	}
	if meta.Subtitle != "" {
		s.subtitle = some(meta.Subtitle)
	}
	if len(meta.Images) > 0 {
		s.imageURL = some(meta.Images[0].URL)
	}
	return s
}

// msToSeconds truncates toward zero.
func msToSeconds(ms int64) int {
	return int(ms / 1000)
}

func (s Snapshot) PlayerState() int    { return s.playerState }
func (s Snapshot) IdleReason() int     { return s.idleReason }
func (s Snapshot) Muted() bool         { return s.muted }
func (s Snapshot) StreamPosition() int { return s.streamPosition }

func (s Snapshot) DeviceName() (string, bool)               { return s.deviceName.get() }
func (s Snapshot) StreamDuration() (int, bool)              { return s.streamDuration.get() }
func (s Snapshot) SelectedSubtitleLanguage() (string, bool) { return s.subtitleLanguage.get() }
func (s Snapshot) SelectedAudioLanguage() (string, bool)    { return s.audioLanguage.get() }
func (s Snapshot) Title() (string, bool)                    { return s.title.get() }
func (s Snapshot) Subtitle() (string, bool)                 { return s.subtitle.get() }
func (s Snapshot) ImageURL() (string, bool)                 { return s.imageURL.get() }

// Fields returns a new flat map of the snapshot. Optional fields that were
// not resolved are absent.
func (s Snapshot) Fields() map[string]any {
	m := map[string]any{
		"playerState":    s.playerState,
		"idleReason":     s.idleReason,
		"muted":          s.muted,
		"streamPosition": s.streamPosition,
	}
	putOptional(m, "deviceName", s.deviceName)
	putOptional(m, "streamDuration", s.streamDuration)
	putOptional(m, "selectedSubtitleLanguage", s.subtitleLanguage)
	putOptional(m, "selectedAudioLanguage", s.audioLanguage)
	putOptional(m, "title", s.title)
	putOptional(m, "subtitle", s.subtitle)
	putOptional(m, "imageUrl", s.imageURL)
	return m
}

func putOptional[T any](m map[string]any, key string, o optional[T]) {
	if v, ok := o.get(); ok {
		m[key] = v
	}
}

// MarshalJSON encodes the snapshot as its flat field map.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}

// StatusEnvelope wraps a snapshot for the status family of events.
type StatusEnvelope struct {
	MediaStatus Snapshot `json:"mediaStatus"`
}

// Progress is the payload of a progress event, in whole seconds.
type Progress struct {
	Progress int `json:"progress"`
	Duration int `json:"duration"`
}

// ProgressEnvelope wraps a progress payload.
type ProgressEnvelope struct {
	MediaProgress Progress `json:"mediaProgress"`
}

// NewProgress converts millisecond progress to whole seconds.
func NewProgress(progressMs, durationMs int64) ProgressEnvelope {
	return ProgressEnvelope{MediaProgress: Progress{
		Progress: msToSeconds(progressMs),
		Duration: msToSeconds(durationMs),
	}}
}
