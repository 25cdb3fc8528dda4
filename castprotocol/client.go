package castprotocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vishen/go-chromecast/cast"
	pb "github.com/vishen/go-chromecast/cast/proto"
)

const (
	defaultChromecastPort     = 8009
	defaultSender             = "sender-0"
	defaultReceiver           = "receiver-0"
	defaultMediaReceiverAppID = "CC1AD845"
	defaultProgressInterval   = time.Second

	namespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	namespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	namespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	namespaceMedia      = "urn:x-cast:com.google.cast.media"

	connectRetries = 5
)

var (
	ErrNotConnected   = errors.New("chromecast: not connected")
	ErrNoMediaSession = errors.New("chromecast: no active media session")
)

// castConn is the part of cast.Conn the client relies on.
type castConn interface {
	Start(addr string, port int) error
	MsgChan() chan *pb.CastMessage
	Close() error
	Send(requestID int, payload cast.Payload, sourceID, destinationID, namespace string) error
}

// CastClient is a Cast v2 sender session attached to the default media
// receiver of one device. It keeps the latest media status and relays
// receiver notifications to registered listeners.
type CastClient struct {
	conn castConn
	host string
	port int

	// ProgressInterval is the period of progress notifications.
	ProgressInterval time.Duration
	Logger           zerolog.Logger
	LogOutput        io.Writer
	initLogOnce      sync.Once

	mu              sync.RWMutex
	connected       bool
	device          *Device
	transportID     string
	volume          Volume
	status          *MediaStatus
	statusAt        time.Time
	metadataKey     string
	preloadedItemID int
	receiverSeen    chan struct{}
	receiverOnce    sync.Once
	transportReady  chan struct{}
	transportOnce   sync.Once
	cancel          context.CancelFunc
	loops           sync.WaitGroup

	lmu               sync.RWMutex
	mediaListeners    []MediaListener
	progressListeners []ProgressListener

	now func() time.Time
}

// Log returns the zerolog logger, initializing it lazily if LogOutput is set.
func (c *CastClient) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Str("Component", "castprotocol").Logger()
		})
	}
	return &c.Logger
}

// NewCastClient prepares a session for deviceAddr ("host:port" or a URL).
// Connect must be called before any command.
func NewCastClient(deviceAddr string, device *Device) (*CastClient, error) {
	host, port, err := splitDeviceAddr(deviceAddr)
	if err != nil {
		return nil, err
	}
	return newCastClient(cast.NewConnection(), host, port, device), nil
}

func newCastClient(conn castConn, host string, port int, device *Device) *CastClient {
	return &CastClient{
		conn:             conn,
		host:             host,
		port:             port,
		device:           device,
		ProgressInterval: defaultProgressInterval,
		Logger:           zerolog.Nop(),
		receiverSeen:     make(chan struct{}),
		transportReady:   make(chan struct{}),
		now:              time.Now,
	}
}

func splitDeviceAddr(deviceAddr string) (string, int, error) {
	raw := deviceAddr
	if u, err := url.Parse(deviceAddr); err == nil && u.Host != "" {
		raw = u.Host
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port: assume the default Chromecast port.
		if host = raw; host == "" {
			return "", 0, fmt.Errorf("parse device addr %q: %w", deviceAddr, err)
		}
		return host, defaultChromecastPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse device port %q: %w", portStr, err)
	}
	return host, port, nil
}

// Connect opens the connection, launches the default media receiver if it
// is not running yet and subscribes to its media status. ctx bounds the
// whole handshake; the session keeps running until Close.
func (c *CastClient) Connect(ctx context.Context) error {
	c.Log().Debug().Str("Method", "Connect").Str("Host", c.host).Int("Port", c.port).Msg("connecting")

	var lastErr error
	for attempt := range connectRetries {
		lastErr = c.conn.Start(c.host, c.port)
		if lastErr == nil {
			break
		}
		if !isTimeoutError(lastErr) || attempt == connectRetries-1 {
			break
		}
		c.Log().Debug().Str("Method", "Connect").Int("Attempt", attempt).Err(lastErr).Msg("timeout, device may be waking up, retrying...")
		select {
		case <-ctx.Done():
			return fmt.Errorf("chromecast connect: %w", ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	if lastErr != nil {
		c.Log().Error().Str("Method", "Connect").Err(lastErr).Msg("connection failed")
		return fmt.Errorf("chromecast connect: %w", lastErr)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		c.receiveLoop(loopCtx)
	}()

	if err := c.handshake(ctx); err != nil {
		c.shutdown()
		c.Log().Error().Str("Method", "Connect").Err(err).Msg("handshake failed")
		return fmt.Errorf("chromecast connect: %w", err)
	}

	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		c.progressLoop(loopCtx)
	}()

	c.Log().Debug().Str("Method", "Connect").Str("TransportId", c.TransportID()).Msg("connected successfully")
	return nil
}

func (c *CastClient) handshake(ctx context.Context) error {
	if err := c.send(&cast.ConnectHeader, defaultReceiver, namespaceConnection); err != nil {
		return fmt.Errorf("connect receiver: %w", err)
	}
	if err := c.send(&cast.GetStatusHeader, defaultReceiver, namespaceReceiver); err != nil {
		return fmt.Errorf("receiver status: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.receiverSeen:
	}

	if c.TransportID() == "" {
		c.Log().Debug().Str("Method", "Connect").Msg("launching default receiver")
		launch := &launchCommand{PayloadHeader: cast.LaunchHeader, AppId: defaultMediaReceiverAppID}
		if err := c.send(launch, defaultReceiver, namespaceReceiver); err != nil {
			return fmt.Errorf("launch receiver: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for transport: %w", ctx.Err())
	case <-c.transportReady:
	}

	transportID := c.TransportID()
	if err := c.send(&cast.ConnectHeader, transportID, namespaceConnection); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if err := c.send(&cast.GetStatusHeader, transportID, namespaceMedia); err != nil {
		return fmt.Errorf("media status: %w", err)
	}
	return nil
}

// isTimeoutError checks if an error is a timeout/deadline exceeded error.
// This typically happens when the TV needs to wake from sleep.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

func (c *CastClient) send(payload cast.Payload, destination, namespace string) error {
	// Known headers are package level values; never mutate them.
	if h, ok := payload.(*cast.PayloadHeader); ok {
		cp := *h
		payload = &cp
	}
	return c.conn.Send(nextRequestID(), payload, defaultSender, destination, namespace)
}

func (c *CastClient) receiveLoop(ctx context.Context) {
	msgs := c.conn.MsgChan()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.Log().Debug().Str("Method", "receiveLoop").Msg("connection closed by device")
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				return
			}
			c.handleMessage(msg)
		}
	}
}

func (c *CastClient) handleMessage(msg *pb.CastMessage) {
	payload := msg.GetPayloadUtf8()
	env, err := decodeEnvelope(payload)
	if err != nil {
		c.Log().Debug().Str("Method", "handleMessage").Str("Namespace", msg.GetNamespace()).Err(err).Msg("undecodable payload")
		return
	}

	switch env.Type {
	case "PING":
		if err := c.send(&cast.PongHeader, msg.GetSourceId(), namespaceHeartbeat); err != nil {
			c.Log().Debug().Str("Method", "handleMessage").Err(err).Msg("pong failed")
		}
	case "RECEIVER_STATUS":
		var rs receiverStatusMessage
		if err := json.Unmarshal([]byte(payload), &rs); err != nil {
			c.Log().Error().Str("Method", "handleMessage").Err(err).Msg("bad RECEIVER_STATUS")
			return
		}
		c.handleReceiverStatus(rs)
	case "MEDIA_STATUS":
		var ms mediaStatusMessage
		if err := json.Unmarshal([]byte(payload), &ms); err != nil {
			c.Log().Error().Str("Method", "handleMessage").Err(err).Msg("bad MEDIA_STATUS")
			return
		}
		c.handleMediaStatus(ms.Status)
	case "QUEUE_CHANGE", "QUEUE_ITEMS", "QUEUE_ITEM_IDS":
		c.notify(MediaListener.OnQueueStatusUpdated)
	case "CLOSE":
		c.handleClose(msg.GetSourceId())
	case "LOAD_FAILED", "LOAD_CANCELLED", "INVALID_REQUEST", "INVALID_PLAYER_STATE":
		c.Log().Warn().Str("Method", "handleMessage").Str("Type", env.Type).Int("RequestId", env.RequestId).Msg("request rejected by receiver")
	default:
		c.Log().Debug().Str("Method", "handleMessage").Str("Type", env.Type).Msg("ignored message")
	}
}

func (c *CastClient) handleReceiverStatus(rs receiverStatusMessage) {
	c.mu.Lock()
	c.volume = rs.Status.Volume
	for _, app := range rs.Status.Applications {
		if app.AppId == defaultMediaReceiverAppID && app.TransportId != "" {
			if c.transportID == "" {
				c.transportID = app.TransportId
			}
			c.transportOnce.Do(func() { close(c.transportReady) })
			break
		}
	}
	c.mu.Unlock()
	c.receiverOnce.Do(func() { close(c.receiverSeen) })
}

func (c *CastClient) handleMediaStatus(list []MediaStatus) {
	c.mu.Lock()
	prevKey := c.metadataKey
	prevPreload := c.preloadedItemID

	if len(list) == 0 {
		c.status = nil
		c.metadataKey = ""
		c.preloadedItemID = 0
	} else {
		next := list[0]
		if next.Media == nil && c.status != nil && c.status.MediaSessionID == next.MediaSessionID {
			next.Media = c.status.Media
		}
		c.status = &next
		c.statusAt = c.now()
		c.metadataKey = next.Media.metadataKey()
		c.preloadedItemID = next.PreloadedItemID
	}
	metadataChanged := c.metadataKey != prevKey
	preloadChanged := c.preloadedItemID != prevPreload
	breakStatus := c.status != nil && len(c.status.BreakStatus) > 0
	c.mu.Unlock()

	c.notify(MediaListener.OnStatusUpdated)
	if metadataChanged {
		c.notify(MediaListener.OnMetadataUpdated)
	}
	if preloadChanged {
		c.notify(MediaListener.OnPreloadStatusUpdated)
	}
	if breakStatus {
		c.notify(MediaListener.OnAdBreakStatusUpdated)
	}
}

func (c *CastClient) handleClose(source string) {
	c.mu.Lock()
	closedTransport := source != "" && source == c.transportID
	if closedTransport {
		c.transportID = ""
		c.status = nil
		c.metadataKey = ""
	}
	c.mu.Unlock()

	if closedTransport {
		c.Log().Debug().Str("Method", "handleClose").Str("Source", source).Msg("media receiver closed the session")
		c.notify(MediaListener.OnStatusUpdated)
	}
}

func (c *CastClient) progressLoop(ctx context.Context) {
	interval := c.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progressMs, durationMs, ok := c.ApproximateProgress()
			if ok {
				c.notifyProgress(progressMs, durationMs)
			}
		}
	}
}

// ApproximateProgress estimates the current stream position from the last
// reported status and the wall time elapsed since, while playing.
func (c *CastClient) ApproximateProgress() (progressMs, durationMs int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.status == nil {
		return 0, 0, false
	}

	position := c.status.CurrentTime
	if c.status.PlayerStateCode() == PlayerStatePlaying {
		rate := c.status.PlaybackRate
		if rate <= 0 {
			rate = 1
		}
		position += c.now().Sub(c.statusAt).Seconds() * rate
	}

	if c.status.Media != nil {
		durationMs = c.status.Media.StreamDurationMs()
		if c.status.Media.Duration > 0 && position > c.status.Media.Duration {
			position = c.status.Media.Duration
		}
	}

	return secondsToMs(position), durationMs, true
}

// MediaStatus returns a copy of the latest media status, or nil when no
// media session is active.
func (c *CastClient) MediaStatus() *MediaStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Clone()
}

// Device returns the device the session is attached to, if known.
func (c *CastClient) Device() *Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.device == nil {
		return nil
	}
	d := *c.device
	return &d
}

// TransportID returns the transport id of the media receiver.
func (c *CastClient) TransportID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transportID
}

func (c *CastClient) mediaTarget() (string, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return "", 0, ErrNotConnected
	}
	if c.transportID == "" || c.status == nil {
		return "", 0, ErrNoMediaSession
	}
	return c.transportID, c.status.MediaSessionID, nil
}

func (c *CastClient) mediaCommand(method string, header cast.PayloadHeader, currentTime *float64, resumeState string) error {
	transportID, sessionID, err := c.mediaTarget()
	if err != nil {
		c.Log().Error().Str("Method", method).Err(err).Msg("failed")
		return err
	}

	c.notify(MediaListener.OnSendingRemoteMediaRequest)
	cmd := &mediaCommand{
		PayloadHeader:  header,
		MediaSessionId: sessionID,
		CurrentTime:    currentTime,
		ResumeState:    resumeState,
	}
	if err := c.send(cmd, transportID, namespaceMedia); err != nil {
		c.Log().Error().Str("Method", method).Err(err).Msg("failed")
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Load loads media onto the receiver.
func (c *CastClient) Load(req LoadRequest) error {
	c.Log().Debug().Str("Method", "Load").Str("URL", req.URL).Str("ContentType", req.ContentType).Int("StartTime", req.StartTime).Bool("HasSubs", req.SubtitleURL != "").Bool("Live", req.Live).Msg("loading media")

	if !c.IsConnected() {
		return ErrNotConnected
	}
	transportID := c.TransportID()
	if transportID == "" {
		return ErrNoMediaSession
	}

	c.notify(MediaListener.OnSendingRemoteMediaRequest)
	if err := c.send(newLoadPayload(req), transportID, namespaceMedia); err != nil {
		c.Log().Error().Str("Method", "Load").Err(err).Msg("failed")
		return fmt.Errorf("send load: %w", err)
	}
	return nil
}

// Play resumes playback.
func (c *CastClient) Play() error {
	c.Log().Debug().Str("Method", "Play").Msg("resuming playback")
	return c.mediaCommand("Play", cast.PlayHeader, nil, "")
}

// Pause pauses playback.
func (c *CastClient) Pause() error {
	c.Log().Debug().Str("Method", "Pause").Msg("pausing playback")
	return c.mediaCommand("Pause", cast.PauseHeader, nil, "")
}

// Stop stops playback and closes the media session.
func (c *CastClient) Stop() error {
	c.Log().Debug().Str("Method", "Stop").Msg("stopping playback")
	return c.mediaCommand("Stop", cast.StopHeader, nil, "")
}

// Seek seeks to position in seconds from start.
func (c *CastClient) Seek(seconds int) error {
	c.Log().Debug().Str("Method", "Seek").Int("Seconds", seconds).Msg("seeking")
	pos := float64(seconds)
	return c.mediaCommand("Seek", cast.SeekHeader, &pos, "PLAYBACK_START")
}

// SetVolume sets the device volume (0.0 to 1.0).
func (c *CastClient) SetVolume(level float64) error {
	c.Log().Debug().Str("Method", "SetVolume").Float64("Level", level).Msg("setting volume")
	level = min(max(level, 0), 1)
	return c.volumeCommand("SetVolume", volumeFields{Level: &level})
}

// SetMuted sets the device mute state.
func (c *CastClient) SetMuted(muted bool) error {
	c.Log().Debug().Str("Method", "SetMuted").Bool("Muted", muted).Msg("setting mute")
	return c.volumeCommand("SetMuted", volumeFields{Muted: &muted})
}

func (c *CastClient) volumeCommand(method string, fields volumeFields) error {
	if !c.IsConnected() {
		c.Log().Error().Str("Method", method).Err(ErrNotConnected).Msg("failed")
		return ErrNotConnected
	}
	c.notify(MediaListener.OnSendingRemoteMediaRequest)
	cmd := &volumeCommand{PayloadHeader: cast.VolumeHeader, Volume: fields}
	if err := c.send(cmd, defaultReceiver, namespaceReceiver); err != nil {
		c.Log().Error().Str("Method", method).Err(err).Msg("failed")
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// GetStatus returns a compact view of the cached playback state.
func (c *CastClient) GetStatus() (*CastStatus, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &CastStatus{
		Volume: c.volume.Level,
		Muted:  c.volume.Muted,
	}
	if c.status == nil {
		status.PlayerState = "IDLE"
		return status, nil
	}
	status.PlayerState = c.status.PlayerState
	status.CurrentTime = c.status.CurrentTime
	if media := c.status.Media; media != nil {
		status.Duration = media.Duration
		status.ContentType = media.ContentType
		if media.Metadata != nil {
			status.MediaTitle = media.Metadata.Title
		}
	}
	return status, nil
}

// Close disconnects from the Chromecast device.
func (c *CastClient) Close(stopMedia bool) error {
	c.Log().Debug().Str("Method", "Close").Bool("StopMedia", stopMedia).Msg("closing connection")
	if !c.IsConnected() {
		return nil
	}

	if stopMedia {
		if err := c.Stop(); err != nil && !errors.Is(err, ErrNoMediaSession) {
			c.Log().Debug().Str("Method", "Close").Err(err).Msg("stop before close failed")
		}
	}
	if transportID := c.TransportID(); transportID != "" {
		_ = c.send(&cast.CloseHeader, transportID, namespaceConnection)
	}
	_ = c.send(&cast.CloseHeader, defaultReceiver, namespaceConnection)

	c.shutdown()
	err := c.conn.Close()
	if err != nil {
		c.Log().Error().Str("Method", "Close").Err(err).Msg("failed")
	}
	return err
}

func (c *CastClient) shutdown() {
	c.mu.Lock()
	c.connected = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.loops.Wait()
}

// IsConnected returns whether client is connected.
func (c *CastClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Host returns the hostname of the connected Chromecast device.
func (c *CastClient) Host() string {
	return c.host
}
