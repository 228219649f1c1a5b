// ABOUTME: Null output that discards audio
// ABOUTME: Optionally paces playback in real time so the pipeline behaves like a sound card
package output

import "github.com/Resonate-Protocol/playd/pkg/audio"

// Null discards everything it is given
type Null struct {
	sync  bool
	timer *timer
}

// NewNull creates a null output; the "sync" parameter (default true) makes
// Play block in real time
func NewNull(p Params) (*Null, error) {
	sync, err := p.Bool("sync", true)
	if err != nil {
		return nil, err
	}
	return &Null{sync: sync}, nil
}

func (n *Null) Open(f audio.Format) (audio.Format, error) {
	if n.sync {
		n.timer = newTimer(f)
	}
	return f, nil
}

func (n *Null) Play(p []byte) (int, error) {
	if n.timer != nil {
		if !n.timer.isStarted() {
			n.timer.startNow()
		}
		n.timer.add(len(p))
		n.timer.synchronize()
	}
	return len(p), nil
}

func (n *Null) Drain() error {
	if n.timer != nil && n.timer.isStarted() {
		n.timer.synchronize()
	}
	return nil
}

func (n *Null) Cancel() {
	if n.timer != nil {
		n.timer.reset()
	}
}

func (n *Null) Pause() error {
	if n.timer != nil {
		n.timer.reset()
	}
	return nil
}

func (n *Null) Close() error {
	n.timer = nil
	return nil
}
