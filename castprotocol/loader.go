package castprotocol

import (
	"encoding/json"
	"sync/atomic"

	"github.com/vishen/go-chromecast/cast"
)

// Request ID counter for Chromecast messages
var requestIDCounter int32

func nextRequestID() int {
	return int(atomic.AddInt32(&requestIDCounter, 1))
}

// LoadRequest describes the media a client asks the receiver to play.
type LoadRequest struct {
	URL              string
	ContentType      string
	StartTime        int     // seconds
	Duration         float64 // seconds, 0 lets the receiver detect it
	Title            string
	Subtitle         string
	ImageURL         string
	SubtitleURL      string
	SubtitleLanguage string
	Live             bool
	Autoplay         bool
}

// CustomLoadPayload is a LoadMediaCommand with tracks support.
// This extends the standard cast.LoadMediaCommand to include subtitle tracks.
type CustomLoadPayload struct {
	Type           string    `json:"type"`
	RequestId      int       `json:"requestId"`
	Media          MediaInfo `json:"media"`
	CurrentTime    int       `json:"currentTime"`
	Autoplay       bool      `json:"autoplay"`
	ActiveTrackIds []int     `json:"activeTrackIds,omitempty"`
}

// SetRequestId implements cast.Payload interface
func (p *CustomLoadPayload) SetRequestId(id int) {
	p.RequestId = id
}

// Ensure CustomLoadPayload implements the cast.Payload interface
var _ cast.Payload = (*CustomLoadPayload)(nil)

// newLoadPayload builds the LOAD payload for req. A subtitle URL adds a
// WebVTT text track and activates it.
func newLoadPayload(req LoadRequest) *CustomLoadPayload {
	streamType := "BUFFERED"
	if req.Live {
		streamType = "LIVE"
	}

	media := MediaInfo{
		ContentID:   req.URL,
		ContentType: req.ContentType,
		StreamType:  streamType,
		Duration:    req.Duration,
	}

	if req.Title != "" || req.Subtitle != "" || req.ImageURL != "" {
		meta := &MediaMetadata{
			MetadataType: 0, // GenericMediaMetadata
			Title:        req.Title,
			Subtitle:     req.Subtitle,
		}
		if req.ImageURL != "" {
			meta.Images = []Image{{URL: req.ImageURL}}
		}
		media.Metadata = meta
	}

	var activeTrackIds []int
	if req.SubtitleURL != "" {
		lang := req.SubtitleLanguage
		if lang == "" {
			lang = "en"
		}
		media.Tracks = []MediaTrack{NewSubtitleTrack(1, req.SubtitleURL, "Subtitles", lang)}
		activeTrackIds = []int{1}
	}

	return &CustomLoadPayload{
		Type:           "LOAD",
		Media:          media,
		CurrentTime:    req.StartTime,
		Autoplay:       req.Autoplay,
		ActiveTrackIds: activeTrackIds,
	}
}

// mediaCommand addresses the current media session (PLAY, PAUSE, STOP, SEEK).
type mediaCommand struct {
	cast.PayloadHeader
	MediaSessionId int      `json:"mediaSessionId"`
	CurrentTime    *float64 `json:"currentTime,omitempty"`
	ResumeState    string   `json:"resumeState,omitempty"`
}

// volumeCommand changes level and mute independently; an unset field is
// left untouched by the receiver.
type volumeCommand struct {
	cast.PayloadHeader
	Volume volumeFields `json:"volume"`
}

type volumeFields struct {
	Level *float64 `json:"level,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
}

type launchCommand struct {
	cast.PayloadHeader
	AppId string `json:"appId"`
}

// envelope is used to peek at the type of an incoming payload.
type envelope struct {
	Type      string `json:"type"`
	RequestId int    `json:"requestId"`
}

type receiverStatusMessage struct {
	Status struct {
		Applications []cast.Application `json:"applications"`
		Volume       Volume             `json:"volume"`
	} `json:"status"`
}

type mediaStatusMessage struct {
	Status []MediaStatus `json:"status"`
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	err := json.Unmarshal([]byte(payload), &env)
	return env, err
}
