// ABOUTME: Notifications the player sends to the rest of the daemon
// ABOUTME: Idle subsystems plus the queue sync and tag hooks
package player

// Idle subsystems reported through OnPlayerIdle
const (
	IdlePlayer  = "player"
	IdleOptions = "options"
)

// Listener receives player events. Callbacks run on the player goroutine or
// on the caller of a Control method, sometimes with the pipeline lock held,
// so implementations must not call back into the Control synchronously.
type Listener interface {
	// OnPlayerIdle reports a change in a subsystem
	OnPlayerIdle(subsystem string)
	// OnPlayerSync is sent when the player started a queued song
	OnPlayerSync()
	// OnPlayerTagModified is sent when a remote stream changed its tag
	OnPlayerTagModified()
	// OnBorderPause is sent when playback paused at a song border
	OnBorderPause()
}

// NopListener ignores every event
type NopListener struct{}

func (NopListener) OnPlayerIdle(string)  {}
func (NopListener) OnPlayerSync()        {}
func (NopListener) OnPlayerTagModified() {}
func (NopListener) OnBorderPause()       {}

// Listeners fans events out to several listeners
type Listeners []Listener

func (ls Listeners) OnPlayerIdle(subsystem string) {
	for _, l := range ls {
		l.OnPlayerIdle(subsystem)
	}
}

func (ls Listeners) OnPlayerSync() {
	for _, l := range ls {
		l.OnPlayerSync()
	}
}

func (ls Listeners) OnPlayerTagModified() {
	for _, l := range ls {
		l.OnPlayerTagModified()
	}
}

func (ls Listeners) OnBorderPause() {
	for _, l := range ls {
		l.OnBorderPause()
	}
}
