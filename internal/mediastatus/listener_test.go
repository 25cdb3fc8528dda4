package mediastatus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go2tv.app/castbridge/castprotocol"
	"go2tv.app/castbridge/internal/uiqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu     sync.Mutex
	status *castprotocol.MediaStatus
	device *castprotocol.Device
}

func (f *fakeSource) set(status *castprotocol.MediaStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeSource) MediaStatus() *castprotocol.MediaStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status.Clone()
}

func (f *fakeSource) Device() *castprotocol.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) names() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

type harness struct {
	source   *fakeSource
	emitter  *recordingEmitter
	queue    *uiqueue.Queue
	listener *Listener
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:  &fakeSource{device: &castprotocol.Device{FriendlyName: "Living Room"}},
		emitter: &recordingEmitter{},
		queue:   uiqueue.New(64, zerolog.Nop()),
	}
	h.listener = NewListener(h.source, h.queue, h.emitter, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go h.queue.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.queue.Done()
	})
	return h
}

// update delivers one status notification and waits for it to be handled.
func (h *harness) update(t *testing.T, status *castprotocol.MediaStatus) {
	t.Helper()
	h.source.set(status)
	h.listener.OnStatusUpdated()
	h.flush(t)
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.queue.Flush(ctx))
}

func (h *harness) state(t *testing.T) PlaybackState {
	t.Helper()
	var st PlaybackState
	require.NoError(t, h.queue.Post(func() { st = h.listener.State() }))
	h.flush(t)
	return st
}

func playing(item int) *castprotocol.MediaStatus {
	return &castprotocol.MediaStatus{PlayerState: "PLAYING", CurrentItemID: item}
}

func finished(item int) *castprotocol.MediaStatus {
	return &castprotocol.MediaStatus{PlayerState: "IDLE", IdleReason: "FINISHED", CurrentItemID: item}
}

func TestStartedEmittedOncePerItem(t *testing.T) {
	h := newHarness(t)

	for range 4 {
		h.update(t, playing(1))
	}

	require.Equal(t, []string{
		EventMediaStatusUpdated,
		EventMediaPlaybackStarted,
		EventMediaStatusUpdated,
		EventMediaStatusUpdated,
		EventMediaStatusUpdated,
	}, h.emitter.names())
}

func TestEndedEmittedOncePerItem(t *testing.T) {
	h := newHarness(t)

	h.update(t, finished(5))
	h.update(t, finished(5))
	h.update(t, &castprotocol.MediaStatus{PlayerState: "PAUSED", CurrentItemID: 5})
	h.update(t, finished(5))

	ended := 0
	for _, name := range h.emitter.names() {
		if name == EventMediaPlaybackEnded {
			ended++
		}
	}
	require.Equal(t, 1, ended)
}

func TestItemChangeResetsMilestones(t *testing.T) {
	h := newHarness(t)

	h.update(t, playing(1))
	h.update(t, finished(1))
	h.update(t, playing(2))

	require.Equal(t, []string{
		EventMediaStatusUpdated,
		EventMediaPlaybackStarted,
		EventMediaStatusUpdated,
		EventMediaPlaybackEnded,
		EventMediaStatusUpdated,
		EventMediaPlaybackStarted,
	}, h.emitter.names())

	require.Equal(t, PlaybackState{CurrentItemID: 2, Started: true}, h.state(t))
}

func TestReentryIntoFinishedItemRetriggers(t *testing.T) {
	h := newHarness(t)

	h.update(t, finished(1))
	h.update(t, playing(2))
	h.update(t, finished(1))

	ended := 0
	for _, name := range h.emitter.names() {
		if name == EventMediaPlaybackEnded {
			ended++
		}
	}
	require.Equal(t, 2, ended)
}

func TestStartedAndEndedOnSameUpdate(t *testing.T) {
	h := newHarness(t)

	// Receivers never report this combination, but the two checks are independent.
	h.update(t, &castprotocol.MediaStatus{PlayerState: "PLAYING", IdleReason: "FINISHED", CurrentItemID: 3})

	require.Equal(t, []string{
		EventMediaStatusUpdated,
		EventMediaPlaybackStarted,
		EventMediaPlaybackEnded,
	}, h.emitter.names())
}

func TestNilStatusIsNoop(t *testing.T) {
	h := newHarness(t)

	h.update(t, playing(4))
	before := h.state(t)
	count := len(h.emitter.events)

	h.update(t, nil)
	h.listener.OnProgressUpdated(1000, 2000)
	h.flush(t)

	require.Len(t, h.emitter.events, count)
	require.Equal(t, before, h.state(t))
}

func TestProgressOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t)

	for _, state := range []string{"PAUSED", "BUFFERING", "IDLE", "LOADING"} {
		h.source.set(&castprotocol.MediaStatus{PlayerState: state})
		h.listener.OnProgressUpdated(5000, 10000)
	}
	h.flush(t)
	require.Empty(t, h.emitter.events)

	h.source.set(playing(1))
	h.listener.OnProgressUpdated(1999, 5000)
	h.flush(t)

	require.Len(t, h.emitter.events, 1)
	require.Equal(t, EventMediaProgressUpdated, h.emitter.events[0].Name)
	require.Equal(t, ProgressEnvelope{MediaProgress: Progress{Progress: 1, Duration: 5}}, h.emitter.events[0].Body)
}

func TestMilestoneSnapshotsMatchStatus(t *testing.T) {
	h := newHarness(t)

	status := playing(1)
	status.CurrentTime = 2.5
	status.Media = &castprotocol.MediaInfo{
		Duration: 100,
		Metadata: &castprotocol.MediaMetadata{Title: "Song"},
	}
	h.update(t, status)

	require.Len(t, h.emitter.events, 2)
	for _, ev := range h.emitter.events {
		env, ok := ev.Body.(StatusEnvelope)
		require.True(t, ok)
		fields := env.MediaStatus.Fields()
		require.Equal(t, 2, fields["streamPosition"])
		require.Equal(t, 100, fields["streamDuration"])
		require.Equal(t, "Song", fields["title"])
		require.Equal(t, "Living Room", fields["deviceName"])
	}
}

func TestStatusCapturedAtCallbackTime(t *testing.T) {
	h := newHarness(t)

	h.source.set(playing(1))
	h.listener.OnStatusUpdated()
	// A later status must not leak into the already enqueued task.
	h.source.set(finished(2))
	h.flush(t)

	require.Equal(t, []string{EventMediaStatusUpdated, EventMediaPlaybackStarted}, h.emitter.names())
}

func TestResetClearsState(t *testing.T) {
	h := newHarness(t)

	h.update(t, playing(1))
	h.listener.Reset()
	h.flush(t)
	require.Equal(t, PlaybackState{}, h.state(t))

	h.update(t, playing(1))
	require.Equal(t, EventMediaPlaybackStarted, h.emitter.names()[len(h.emitter.events)-1])
}

func TestNoopHooks(t *testing.T) {
	h := newHarness(t)

	h.source.set(playing(1))
	h.listener.OnMetadataUpdated()
	h.listener.OnQueueStatusUpdated()
	h.listener.OnPreloadStatusUpdated()
	h.listener.OnSendingRemoteMediaRequest()
	h.listener.OnAdBreakStatusUpdated()
	h.flush(t)

	require.Empty(t, h.emitter.events)
	require.Equal(t, PlaybackState{}, h.state(t))
}

func TestEmittersFanOut(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	Emitters{a, b}.Emit(Event{Name: EventMediaStatusUpdated})
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
}
