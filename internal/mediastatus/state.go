package mediastatus

import "go2tv.app/castbridge/castprotocol"

// PlaybackState is the per-session milestone state. The zero value is the
// state of a freshly attached session.
type PlaybackState struct {
	CurrentItemID int
	Started       bool
	Ended         bool
}

// Track records itemID as the current item. On an item change both
// milestone flags are cleared and Track reports true.
func (s *PlaybackState) Track(itemID int) bool {
	if s.CurrentItemID == itemID {
		return false
	}
	s.CurrentItemID = itemID
	s.Started = false
	s.Ended = false
	return true
}

// MarkStarted reports whether the "playback started" milestone fires for
// playerState, and latches it.
func (s *PlaybackState) MarkStarted(playerState int) bool {
	if s.Started || playerState != castprotocol.PlayerStatePlaying {
		return false
	}
	s.Started = true
	return true
}

// MarkEnded reports whether the "playback ended" milestone fires for
// idleReason, and latches it.
func (s *PlaybackState) MarkEnded(idleReason int) bool {
	if s.Ended || idleReason != castprotocol.IdleReasonFinished {
		return false
	}
	s.Ended = true
	return true
}

// Observe applies one media status to the state and reports which
// milestones fire for it.
func (s *PlaybackState) Observe(itemID, playerState, idleReason int) (started, ended bool) {
	s.Track(itemID)
	started = s.MarkStarted(playerState)
	ended = s.MarkEnded(idleReason)
	return started, ended
}
