package mediastatus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go2tv.app/castbridge/castprotocol"
)

func TestBuildSnapshotRequiredFieldsOnly(t *testing.T) {
	status := &castprotocol.MediaStatus{
		PlayerState: "PAUSED",
		IdleReason:  "",
		CurrentTime: 61.999,
		Volume:      castprotocol.Volume{Muted: true},
	}

	got := BuildSnapshot(status, nil).Fields()
	assert.Equal(t, map[string]any{
		"playerState":    castprotocol.PlayerStatePaused,
		"idleReason":     castprotocol.IdleReasonNone,
		"muted":          true,
		"streamPosition": 61,
	}, got)
}

func TestBuildSnapshotWithoutMetadata(t *testing.T) {
	status := &castprotocol.MediaStatus{
		PlayerState: "PLAYING",
		CurrentTime: 10,
		Media: &castprotocol.MediaInfo{
			ContentID: "http://example.test/a.mp4",
			Duration:  90.5,
		},
	}

	got := BuildSnapshot(status, &castprotocol.Device{FriendlyName: "Kitchen"}).Fields()
	assert.Equal(t, map[string]any{
		"playerState":    castprotocol.PlayerStatePlaying,
		"idleReason":     castprotocol.IdleReasonNone,
		"muted":          false,
		"streamPosition": 10,
		"streamDuration": 90,
		"deviceName":     "Kitchen",
	}, got)
	assert.NotContains(t, got, "title")
	assert.NotContains(t, got, "subtitle")
	assert.NotContains(t, got, "imageUrl")
}

func TestBuildSnapshotMetadata(t *testing.T) {
	status := &castprotocol.MediaStatus{
		PlayerState: "BUFFERING",
		Media: &castprotocol.MediaInfo{
			Duration: 3,
			Metadata: &castprotocol.MediaMetadata{
				Title:    "Title",
				Subtitle: "Episode 1",
				Images: []castprotocol.Image{
					{URL: "http://example.test/first.jpg"},
					{URL: "http://example.test/second.jpg"},
				},
			},
		},
	}

	snap := BuildSnapshot(status, nil)
	title, ok := snap.Title()
	require.True(t, ok)
	assert.Equal(t, "Title", title)
	subtitle, ok := snap.Subtitle()
	require.True(t, ok)
	assert.Equal(t, "Episode 1", subtitle)
	image, ok := snap.ImageURL()
	require.True(t, ok)
	assert.Equal(t, "http://example.test/first.jpg", image)
	_, ok = snap.DeviceName()
	assert.False(t, ok)
}

func TestBuildSnapshotMetadataWithoutImages(t *testing.T) {
	status := &castprotocol.MediaStatus{
		Media: &castprotocol.MediaInfo{Metadata: &castprotocol.MediaMetadata{Title: "Only title"}},
	}

	got := BuildSnapshot(status, nil).Fields()
	assert.Equal(t, "Only title", got["title"])
	assert.NotContains(t, got, "subtitle")
	assert.NotContains(t, got, "imageUrl")
	assert.Equal(t, 0, got["streamDuration"])
}

func TestBuildSnapshotTrackLanguages(t *testing.T) {
	tracks := []castprotocol.MediaTrack{
		{TrackID: 1, Type: "TEXT", Language: "en"},
		{TrackID: 2, Type: "AUDIO", Language: "fr"},
		{TrackID: 3, Type: "TEXT", Language: "de"},
		{TrackID: 4, Type: "VIDEO", Language: "xx"},
	}

	tests := []struct {
		name         string
		active       []int
		wantSubtitle string
		wantAudio    string
	}{
		{name: "text and audio", active: []int{1, 2}, wantSubtitle: "en", wantAudio: "fr"},
		{name: "no active tracks", active: nil},
		{name: "video track ignored", active: []int{4}},
		{name: "unknown id ignored", active: []int{9}},
		{name: "last text track wins", active: []int{3, 1}, wantSubtitle: "de"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := &castprotocol.MediaStatus{
				ActiveTrackIDs: tt.active,
				Media:          &castprotocol.MediaInfo{Tracks: tracks},
			}
			got := BuildSnapshot(status, nil).Fields()

			if tt.wantSubtitle == "" {
				assert.NotContains(t, got, "selectedSubtitleLanguage")
			} else {
				assert.Equal(t, tt.wantSubtitle, got["selectedSubtitleLanguage"])
			}
			if tt.wantAudio == "" {
				assert.NotContains(t, got, "selectedAudioLanguage")
			} else {
				assert.Equal(t, tt.wantAudio, got["selectedAudioLanguage"])
			}
		})
	}
}

func TestSnapshotFieldsAreIndependent(t *testing.T) {
	snap := BuildSnapshot(&castprotocol.MediaStatus{PlayerState: "PLAYING"}, nil)

	first := snap.Fields()
	first["playerState"] = 99
	first["title"] = "patched"

	second := snap.Fields()
	assert.Equal(t, castprotocol.PlayerStatePlaying, second["playerState"])
	assert.NotContains(t, second, "title")
}

func TestEnvelopeJSON(t *testing.T) {
	status := &castprotocol.MediaStatus{PlayerState: "IDLE", IdleReason: "FINISHED", CurrentTime: 1.5}

	b, err := json.Marshal(StatusEnvelope{MediaStatus: BuildSnapshot(status, nil)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mediaStatus":{"playerState":1,"idleReason":1,"muted":false,"streamPosition":1}}`, string(b))

	b, err = json.Marshal(NewProgress(1999, 5000))
	require.NoError(t, err)
	assert.JSONEq(t, `{"mediaProgress":{"progress":1,"duration":5}}`, string(b))
}

func TestMsToSecondsTruncates(t *testing.T) {
	tests := []struct {
		ms   int64
		want int
	}{
		{0, 0},
		{999, 0},
		{1000, 1},
		{1999, 1},
		{5000, 5},
		{-1500, -1},
	}
	for _, tt := range tests {
		if got := msToSeconds(tt.ms); got != tt.want {
			t.Fatalf("msToSeconds(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}
