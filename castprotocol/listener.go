package castprotocol

// MediaListener receives remote media client notifications. Implementations
// must return quickly: callbacks run on the session's receive goroutine.
type MediaListener interface {
	OnStatusUpdated()
	OnMetadataUpdated()
	OnQueueStatusUpdated()
	OnPreloadStatusUpdated()
	OnSendingRemoteMediaRequest()
	OnAdBreakStatusUpdated()
}

// ProgressListener receives periodic playback progress, in milliseconds.
type ProgressListener interface {
	OnProgressUpdated(progressMs, durationMs int64)
}

// AddListener registers l for media notifications.
func (c *CastClient) AddListener(l MediaListener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.mediaListeners = append(c.mediaListeners, l)
}

// RemoveListener unregisters l.
func (c *CastClient) RemoveListener(l MediaListener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for i, cur := range c.mediaListeners {
		if cur == l {
			c.mediaListeners = append(c.mediaListeners[:i:i], c.mediaListeners[i+1:]...)
			return
		}
	}
}

// AddProgressListener registers l for progress notifications.
func (c *CastClient) AddProgressListener(l ProgressListener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.progressListeners = append(c.progressListeners, l)
}

// RemoveProgressListener unregisters l.
func (c *CastClient) RemoveProgressListener(l ProgressListener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for i, cur := range c.progressListeners {
		if cur == l {
			c.progressListeners = append(c.progressListeners[:i:i], c.progressListeners[i+1:]...)
			return
		}
	}
}

func (c *CastClient) notify(fn func(MediaListener)) {
	c.lmu.RLock()
	listeners := append([]MediaListener(nil), c.mediaListeners...)
	c.lmu.RUnlock()
	for _, l := range listeners {
		fn(l)
	}
}

func (c *CastClient) notifyProgress(progressMs, durationMs int64) {
	c.lmu.RLock()
	listeners := append([]ProgressListener(nil), c.progressListeners...)
	c.lmu.RUnlock()
	for _, l := range listeners {
		l.OnProgressUpdated(progressMs, durationMs)
	}
}
