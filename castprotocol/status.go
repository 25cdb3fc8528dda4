package castprotocol

import (
	"encoding/json"
	"math"
	"strings"
)

// Player states, mirroring the Cast SDK MediaStatus enumeration.
const (
	PlayerStateUnknown = iota
	PlayerStateIdle
	PlayerStatePlaying
	PlayerStatePaused
	PlayerStateBuffering
	PlayerStateLoading
)

// Idle reasons, mirroring the Cast SDK MediaStatus enumeration.
const (
	IdleReasonNone = iota
	IdleReasonFinished
	IdleReasonCanceled
	IdleReasonInterrupted
	IdleReasonError
)

// Track types, mirroring the Cast SDK MediaTrack enumeration.
const (
	TrackTypeUnknown = iota
	TrackTypeText
	TrackTypeAudio
	TrackTypeVideo
)

// PlayerStateCode converts a wire player state ("PLAYING", ...) to its SDK code.
func PlayerStateCode(state string) int {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "IDLE":
		return PlayerStateIdle
	case "PLAYING":
		return PlayerStatePlaying
	case "PAUSED":
		return PlayerStatePaused
	case "BUFFERING":
		return PlayerStateBuffering
	case "LOADING":
		return PlayerStateLoading
	default:
		return PlayerStateUnknown
	}
}

// IdleReasonCode converts a wire idle reason ("FINISHED", ...) to its SDK code.
func IdleReasonCode(reason string) int {
	switch strings.ToUpper(strings.TrimSpace(reason)) {
	case "FINISHED":
		return IdleReasonFinished
	case "CANCELLED", "CANCELED":
		return IdleReasonCanceled
	case "INTERRUPTED":
		return IdleReasonInterrupted
	case "ERROR":
		return IdleReasonError
	default:
		return IdleReasonNone
	}
}

// TrackTypeCode converts a wire track type ("TEXT", "AUDIO", "VIDEO") to its SDK code.
func TrackTypeCode(kind string) int {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "TEXT":
		return TrackTypeText
	case "AUDIO":
		return TrackTypeAudio
	case "VIDEO":
		return TrackTypeVideo
	default:
		return TrackTypeUnknown
	}
}

// Volume is the stream or device volume as reported by the receiver.
type Volume struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// MediaStatus is one entry of a MEDIA_STATUS message.
// Receivers omit "media" when it did not change since the previous status.
type MediaStatus struct {
	MediaSessionID  int             `json:"mediaSessionId"`
	PlaybackRate    float64         `json:"playbackRate,omitempty"`
	PlayerState     string          `json:"playerState"`
	IdleReason      string          `json:"idleReason,omitempty"`
	CurrentTime     float64         `json:"currentTime"`
	CurrentItemID   int             `json:"currentItemId,omitempty"`
	LoadingItemID   int             `json:"loadingItemId,omitempty"`
	PreloadedItemID int             `json:"preloadedItemId,omitempty"`
	ActiveTrackIDs  []int           `json:"activeTrackIds,omitempty"`
	Volume          Volume          `json:"volume"`
	Media           *MediaInfo      `json:"media,omitempty"`
	BreakStatus     json.RawMessage `json:"breakStatus,omitempty"`
}

// PlayerStateCode returns the SDK code of the player state.
func (s *MediaStatus) PlayerStateCode() int { return PlayerStateCode(s.PlayerState) }

// IdleReasonCode returns the SDK code of the idle reason.
func (s *MediaStatus) IdleReasonCode() int { return IdleReasonCode(s.IdleReason) }

// IsMute reports the stream mute flag.
func (s *MediaStatus) IsMute() bool { return s.Volume.Muted }

// StreamPositionMs returns the reported stream position in milliseconds.
func (s *MediaStatus) StreamPositionMs() int64 { return secondsToMs(s.CurrentTime) }

// Clone returns a deep copy so callers can hold on to a status while the
// session keeps receiving updates.
func (s *MediaStatus) Clone() *MediaStatus {
	if s == nil {
		return nil
	}
	out := *s
	if s.ActiveTrackIDs != nil {
		out.ActiveTrackIDs = append([]int(nil), s.ActiveTrackIDs...)
	}
	if s.BreakStatus != nil {
		out.BreakStatus = append(json.RawMessage(nil), s.BreakStatus...)
	}
	out.Media = s.Media.Clone()
	return &out
}

func secondsToMs(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

// CastStatus is a compact view of the current playback state.
type CastStatus struct {
	PlayerState string  // "PLAYING", "PAUSED", "IDLE", "BUFFERING"
	CurrentTime float64 // Current position in seconds
	Duration    float64 // Total duration in seconds
	Volume      float64 // Volume level (0.0 to 1.0)
	Muted       bool
	MediaTitle  string
	ContentType string
}

// Device is the receiver a session is attached to.
type Device struct {
	FriendlyName string
	Addr         string
}
