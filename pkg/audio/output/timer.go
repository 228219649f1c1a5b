// ABOUTME: Real-time pacing for devices without a hardware clock
// ABOUTME: Tracks how much audio was submitted and sleeps until the wall clock catches up
package output

import (
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// timer paces playback to the sample rate
type timer struct {
	format  audio.Format
	start   time.Time
	played  time.Duration
	started bool
	// now and sleep are replaced in tests
	now   func() time.Time
	sleep func(time.Duration)
}

func newTimer(f audio.Format) *timer {
	return &timer{format: f, now: time.Now, sleep: time.Sleep}
}

func (t *timer) isStarted() bool {
	return t.started
}

func (t *timer) startNow() {
	t.start = t.now()
	t.played = 0
	t.started = true
}

func (t *timer) reset() {
	t.started = false
}

// add accounts for n bytes of audio
func (t *timer) add(n int) {
	t.played += t.format.SizeToTime(n)
}

// synchronize sleeps until the submitted audio is due
func (t *timer) synchronize() {
	if ahead := t.played - t.now().Sub(t.start); ahead > 0 {
		t.sleep(ahead)
	}
}
