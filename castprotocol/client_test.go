package castprotocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

type sentMessage struct {
	destination string
	namespace   string
	payload     map[string]any
}

// fakeConn answers the handshake like a receiver with no app running.
type fakeConn struct {
	mu     sync.Mutex
	msgs   chan *pb.CastMessage
	sent   []sentMessage
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan *pb.CastMessage, 32)}
}

func (f *fakeConn) Start(string, int) error { return nil }

func (f *fakeConn) MsgChan() chan *pb.CastMessage { return f.msgs }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Send(requestID int, payload cast.Payload, _, destination, namespace string) error {
	payload.SetRequestId(requestID)
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}

	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{destination: destination, namespace: namespace, payload: decoded})
	f.mu.Unlock()

	switch {
	case decoded["type"] == "GET_STATUS" && namespace == namespaceReceiver:
		f.push(defaultReceiver, namespaceReceiver, `{"type":"RECEIVER_STATUS","status":{"applications":[],"volume":{"level":0.5,"muted":false}}}`)
	case decoded["type"] == "LAUNCH":
		f.push(defaultReceiver, namespaceReceiver, `{"type":"RECEIVER_STATUS","status":{"applications":[{"appId":"CC1AD845","transportId":"t-1"}],"volume":{"level":0.5,"muted":false}}}`)
	case decoded["type"] == "GET_STATUS" && namespace == namespaceMedia:
		f.push("t-1", namespaceMedia, mediaStatusJSON)
	}
	return nil
}

func (f *fakeConn) push(source, namespace, payload string) {
	protocolVersion := pb.CastMessage_CASTV2_1_0
	payloadType := pb.CastMessage_STRING
	dest := defaultSender
	f.msgs <- &pb.CastMessage{
		ProtocolVersion: &protocolVersion,
		SourceId:        &source,
		DestinationId:   &dest,
		Namespace:       &namespace,
		PayloadType:     &payloadType,
		PayloadUtf8:     &payload,
	}
}

func (f *fakeConn) sentOfType(kind string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.payload["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

const mediaStatusJSON = `{"type":"MEDIA_STATUS","status":[{
	"mediaSessionId": 7,
	"playerState": "PLAYING",
	"currentTime": 12.5,
	"currentItemId": 3,
	"activeTrackIds": [1],
	"volume": {"level": 1, "muted": true},
	"media": {
		"contentId": "http://example.test/movie.mp4",
		"contentType": "video/mp4",
		"streamType": "BUFFERED",
		"duration": 120.75,
		"tracks": [{"trackId": 1, "type": "TEXT", "language": "en"}],
		"metadata": {"metadataType": 0, "title": "Movie", "images": [{"url": "http://example.test/a.png"}]}
	}
}]}`

type recordingListener struct {
	mu     sync.Mutex
	counts map[string]int
	signal chan string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{counts: make(map[string]int), signal: make(chan string, 64)}
}

func (r *recordingListener) hit(name string) {
	r.mu.Lock()
	r.counts[name]++
	r.mu.Unlock()
	r.signal <- name
}

func (r *recordingListener) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *recordingListener) OnStatusUpdated()             { r.hit("status") }
func (r *recordingListener) OnMetadataUpdated()           { r.hit("metadata") }
func (r *recordingListener) OnQueueStatusUpdated()        { r.hit("queue") }
func (r *recordingListener) OnPreloadStatusUpdated()      { r.hit("preload") }
func (r *recordingListener) OnSendingRemoteMediaRequest() { r.hit("request") }
func (r *recordingListener) OnAdBreakStatusUpdated()      { r.hit("adbreak") }

func waitFor(t *testing.T, l *recordingListener, name string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-l.signal:
			if got == name {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q notification", name)
		}
	}
}

func connectedClient(t *testing.T) (*CastClient, *fakeConn, *recordingListener) {
	t.Helper()
	conn := newFakeConn()
	client := newCastClient(conn, "192.0.2.10", 8009, &Device{FriendlyName: "Living Room", Addr: "192.0.2.10:8009"})
	client.ProgressInterval = time.Hour
	listener := newRecordingListener()
	client.AddListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(false) })
	waitFor(t, listener, "status")
	return client, conn, listener
}

func TestConnectLaunchesReceiverAndTracksStatus(t *testing.T) {
	client, conn, listener := connectedClient(t)

	require.Len(t, conn.sentOfType("LAUNCH"), 1)
	require.Equal(t, "t-1", client.TransportID())

	status := client.MediaStatus()
	require.NotNil(t, status)
	require.Equal(t, PlayerStatePlaying, status.PlayerStateCode())
	require.Equal(t, 3, status.CurrentItemID)
	require.Equal(t, int64(12500), status.StreamPositionMs())
	require.True(t, status.IsMute())
	require.Equal(t, int64(120750), status.Media.StreamDurationMs())
	require.Equal(t, "Movie", status.Media.Metadata.Title)

	// First media status carries new metadata.
	waitFor(t, listener, "metadata")
	require.Equal(t, "Living Room", client.Device().FriendlyName)
}

func TestMediaStatusReturnsCopy(t *testing.T) {
	client, _, _ := connectedClient(t)

	first := client.MediaStatus()
	first.ActiveTrackIDs[0] = 99
	first.Media.Metadata.Title = "changed"

	second := client.MediaStatus()
	require.Equal(t, []int{1}, second.ActiveTrackIDs)
	require.Equal(t, "Movie", second.Media.Metadata.Title)
}

func TestPartialStatusKeepsMedia(t *testing.T) {
	client, conn, listener := connectedClient(t)

	conn.push("t-1", namespaceMedia, `{"type":"MEDIA_STATUS","status":[{"mediaSessionId":7,"playerState":"PAUSED","currentTime":20,"currentItemId":3,"volume":{"level":1,"muted":false}}]}`)
	waitFor(t, listener, "status")

	status := client.MediaStatus()
	require.Equal(t, PlayerStatePaused, status.PlayerStateCode())
	require.NotNil(t, status.Media)
	require.Equal(t, "Movie", status.Media.Metadata.Title)
}

func TestEmptyStatusClearsSession(t *testing.T) {
	client, conn, listener := connectedClient(t)

	conn.push("t-1", namespaceMedia, `{"type":"MEDIA_STATUS","status":[]}`)
	waitFor(t, listener, "status")
	require.Nil(t, client.MediaStatus())

	_, _, ok := client.ApproximateProgress()
	require.False(t, ok)
}

func TestQueueAndPreloadNotifications(t *testing.T) {
	_, conn, listener := connectedClient(t)

	conn.push("t-1", namespaceMedia, `{"type":"QUEUE_CHANGE","changeType":"INSERT"}`)
	waitFor(t, listener, "queue")

	conn.push("t-1", namespaceMedia, `{"type":"MEDIA_STATUS","status":[{"mediaSessionId":7,"playerState":"PLAYING","currentTime":30,"currentItemId":3,"preloadedItemId":4,"breakStatus":{"currentBreakTime":0},"volume":{"level":1,"muted":false}}]}`)
	waitFor(t, listener, "preload")
	waitFor(t, listener, "adbreak")
}

func TestCommandsTargetMediaSession(t *testing.T) {
	client, conn, listener := connectedClient(t)

	require.NoError(t, client.Pause())
	require.NoError(t, client.Seek(42))
	require.NoError(t, client.SetMuted(true))
	require.GreaterOrEqual(t, listener.count("request"), 3)

	pause := conn.sentOfType("PAUSE")
	require.Len(t, pause, 1)
	require.Equal(t, "t-1", pause[0].destination)
	require.Equal(t, namespaceMedia, pause[0].namespace)
	require.EqualValues(t, 7, pause[0].payload["mediaSessionId"])

	seek := conn.sentOfType("SEEK")
	require.Len(t, seek, 1)
	require.EqualValues(t, 42, seek[0].payload["currentTime"])

	volume := conn.sentOfType("SET_VOLUME")
	require.Len(t, volume, 1)
	require.Equal(t, map[string]any{"muted": true}, volume[0].payload["volume"])
}

func TestLoadWithSubtitles(t *testing.T) {
	client, conn, _ := connectedClient(t)

	require.NoError(t, client.Load(LoadRequest{
		URL:         "http://example.test/movie.mp4",
		ContentType: "video/mp4",
		Title:       "Movie",
		SubtitleURL: "http://example.test/movie.vtt",
		Autoplay:    true,
	}))

	load := conn.sentOfType("LOAD")
	require.Len(t, load, 1)
	require.Equal(t, []any{float64(1)}, load[0].payload["activeTrackIds"])
	media := load[0].payload["media"].(map[string]any)
	require.Equal(t, "BUFFERED", media["streamType"])
	require.Len(t, media["tracks"], 1)
}

func TestCommandsRequireConnection(t *testing.T) {
	client := newCastClient(newFakeConn(), "192.0.2.10", 8009, nil)
	require.ErrorIs(t, client.Play(), ErrNotConnected)
	require.ErrorIs(t, client.SetVolume(0.3), ErrNotConnected)
	require.ErrorIs(t, client.Load(LoadRequest{URL: "http://example.test"}), ErrNotConnected)
	require.Nil(t, client.Device())
}

func TestApproximateProgressAdvancesWhilePlaying(t *testing.T) {
	client, _, _ := connectedClient(t)

	client.mu.Lock()
	base := client.statusAt
	client.now = func() time.Time { return base.Add(1500 * time.Millisecond) }
	client.mu.Unlock()

	progress, duration, ok := client.ApproximateProgress()
	require.True(t, ok)
	require.Equal(t, int64(14000), progress)
	require.Equal(t, int64(120750), duration)
}

func TestSplitDeviceAddr(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
	}{
		{"192.168.1.20:8009", "192.168.1.20", 8009},
		{"http://192.168.1.20:8010", "192.168.1.20", 8010},
		{"192.168.1.20", "192.168.1.20", 8009},
	}

	for _, tt := range tests {
		host, port, err := splitDeviceAddr(tt.in)
		if err != nil {
			t.Fatalf("splitDeviceAddr(%q) error: %v", tt.in, err)
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Fatalf("splitDeviceAddr(%q) = %q, %d, want %q, %d", tt.in, host, port, tt.wantHost, tt.wantPort)
		}
	}
}
