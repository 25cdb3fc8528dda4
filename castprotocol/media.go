package castprotocol

// MediaTrack represents a media track (audio, video, or text/subtitles).
// For subtitles, use Type="TEXT" and SubType="SUBTITLES".
type MediaTrack struct {
	TrackID     int    `json:"trackId"`
	Type        string `json:"type"`                       // "TEXT", "AUDIO", "VIDEO"
	SubType     string `json:"subtype,omitempty"`          // "SUBTITLES", "CAPTIONS", etc.
	ContentID   string `json:"trackContentId,omitempty"`   // URL to the track content (e.g., WebVTT file)
	ContentType string `json:"trackContentType,omitempty"` // MIME type (e.g., "text/vtt")
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"` // Language code (e.g., "en")
}

// TypeCode returns the SDK code of the track type.
func (t MediaTrack) TypeCode() int { return TrackTypeCode(t.Type) }

// TextTrackStyle controls how text tracks are rendered by the receiver.
type TextTrackStyle struct {
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	ForegroundColor string  `json:"foregroundColor,omitempty"`
	FontScale       float64 `json:"fontScale,omitempty"`
}

// MediaInfo describes the loaded media, both in LOAD requests and in
// MEDIA_STATUS responses.
type MediaInfo struct {
	ContentID      string          `json:"contentId"`
	ContentType    string          `json:"contentType"`
	StreamType     string          `json:"streamType"`
	Duration       float64         `json:"duration,omitempty"`
	Metadata       *MediaMetadata  `json:"metadata,omitempty"`
	Tracks         []MediaTrack    `json:"tracks,omitempty"`
	TextTrackStyle *TextTrackStyle `json:"textTrackStyle,omitempty"`
}

// StreamDurationMs returns the stream duration in milliseconds.
func (m *MediaInfo) StreamDurationMs() int64 { return secondsToMs(m.Duration) }

// Clone returns a deep copy of the media info.
func (m *MediaInfo) Clone() *MediaInfo {
	if m == nil {
		return nil
	}
	out := *m
	if m.Tracks != nil {
		out.Tracks = append([]MediaTrack(nil), m.Tracks...)
	}
	if m.TextTrackStyle != nil {
		style := *m.TextTrackStyle
		out.TextTrackStyle = &style
	}
	out.Metadata = m.Metadata.Clone()
	return &out
}

// Image is an artwork reference of the media metadata.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// MediaMetadata contains metadata about the media.
type MediaMetadata struct {
	MetadataType int     `json:"metadataType"`
	Title        string  `json:"title,omitempty"`
	Subtitle     string  `json:"subtitle,omitempty"`
	Images       []Image `json:"images,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m *MediaMetadata) Clone() *MediaMetadata {
	if m == nil {
		return nil
	}
	out := *m
	if m.Images != nil {
		out.Images = append([]Image(nil), m.Images...)
	}
	return &out
}

// metadataKey identifies the metadata content for change detection.
func (m *MediaInfo) metadataKey() string {
	if m == nil {
		return ""
	}
	key := m.ContentID
	if m.Metadata != nil {
		key += "\x00" + m.Metadata.Title + "\x00" + m.Metadata.Subtitle
		for _, img := range m.Metadata.Images {
			key += "\x00" + img.URL
		}
	}
	return key
}

// NewSubtitleTrack creates a MediaTrack configured for WebVTT subtitles.
func NewSubtitleTrack(trackID int, url, name, language string) MediaTrack {
	return MediaTrack{
		TrackID:     trackID,
		Type:        "TEXT",
		SubType:     "SUBTITLES",
		ContentID:   url,
		ContentType: "text/vtt",
		Name:        name,
		Language:    language,
	}
}
