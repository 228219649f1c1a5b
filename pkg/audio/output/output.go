// ABOUTME: Audio output interface definition and backend registry
// ABOUTME: Devices negotiate a format on Open and accept whole frames in Play
package output

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// ErrPauseUnsupported is returned by Pause on devices that must be closed instead
var ErrPauseUnsupported = errors.New("pause not supported")

// Output represents an audio output device
type Output interface {
	// Open prepares the device for f and returns the format it will
	// actually accept, which may differ from f
	Open(f audio.Format) (audio.Format, error)

	// Play blocks until at least one frame is accepted and returns the
	// number of bytes consumed
	Play(p []byte) (int, error)

	// Drain waits until all accepted data has been played
	Drain() error

	// Cancel drops accepted data that has not been played yet
	Cancel()

	// Pause stops playback without closing; it returns ErrPauseUnsupported
	// if the device has to be closed instead
	Pause() error

	// Close releases output resources
	Close() error
}

// Mixer is implemented by devices with a hardware volume control
type Mixer interface {
	// Volume returns the volume in percent
	Volume() (int, error)
	SetVolume(percent int) error
}

// Tagger is implemented by devices that forward song metadata
type Tagger interface {
	SendTag(t *tag.Tag)
}

// Enabler is implemented by devices that hold resources while enabled,
// even when closed
type Enabler interface {
	Enable() error
	Disable()
}

// Params are the backend specific settings of one configured output
type Params map[string]string

// String returns a parameter or def
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool parses a boolean parameter
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("parameter %s: %w", key, err)
	}
	return b, nil
}

// Int parses an integer parameter
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("parameter %s: %w", key, err)
	}
	return n, nil
}

// Duration parses a duration parameter such as "500ms"
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("parameter %s: %w", key, err)
	}
	return d, nil
}

// Factory creates a device of one backend type
type Factory func(name string, params Params) (Output, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available under typ
func Register(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typ] = f
}

// New creates a device of the given backend type
func New(typ, name string, params Params) (Output, error) {
	factoriesMu.RLock()
	f, ok := factories[typ]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown output type %q", typ)
	}
	out, err := f(name, params)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", name, err)
	}
	return out, nil
}

// Types lists the registered backend types
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func init() {
	Register("null", func(name string, p Params) (Output, error) { return NewNull(p) })
	Register("oto", func(name string, p Params) (Output, error) { return NewOto(), nil })
	Register("malgo", func(name string, p Params) (Output, error) { return NewMalgo(p) })
	Register("portaudio", func(name string, p Params) (Output, error) { return NewPortAudio(p) })
	Register("pipe", func(name string, p Params) (Output, error) { return NewPipe(p) })
	Register("recorder", func(name string, p Params) (Output, error) { return NewRecorder(p) })
	Register("stream", func(name string, p Params) (Output, error) { return NewStream(name, p) })
}
