// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams 16-bit PCM through a persistent oto player fed by a pipe
package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// oto allows one context per process; it is created on the first Open and
// keeps its format for the lifetime of the process
var (
	otoMu      sync.Mutex
	otoContext *oto.Context
	otoFormat  audio.Format
)

func sharedOtoContext(f audio.Format) (*oto.Context, audio.Format, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoContext != nil {
		if err := otoContext.Resume(); err != nil {
			return nil, otoFormat, fmt.Errorf("failed to resume oto context: %w", err)
		}
		return otoContext, otoFormat, nil
	}

	f.Format = audio.SampleFormatS16
	if f.Channels > 2 {
		f.Channels = 2
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, f, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	otoContext = ctx
	otoFormat = f
	return ctx, f, nil
}

// Oto plays through the platform default device
type Oto struct {
	ctx        *oto.Context
	format     audio.Format
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	volume     float64
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{volume: 1}
}

// Open initializes the shared context and a player. The format is the one
// the process context was created with.
func (o *Oto) Open(f audio.Format) (audio.Format, error) {
	ctx, actual, err := sharedOtoContext(f)
	if err != nil {
		return f, err
	}
	if actual != f {
		log.Debug().Str("requested", f.String()).Str("actual", actual.String()).Msg("oto format adjusted")
	}

	o.ctx = ctx
	o.format = actual
	o.newPlayer()
	return actual, nil
}

// newPlayer creates a persistent player that reads from a fresh pipe
func (o *Oto) newPlayer() {
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.ctx.NewPlayer(o.pipeReader)
	o.player.SetVolume(o.volume)
	o.player.Play()
}

func (o *Oto) closePlayer() {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
}

// Play writes to the pipe, which blocks until the player has taken the data
func (o *Oto) Play(p []byte) (int, error) {
	if o.player == nil {
		return 0, fmt.Errorf("output not initialized")
	}
	if !o.player.IsPlaying() {
		o.player.Play()
	}
	n, err := o.pipeWriter.Write(p)
	if err != nil {
		return n, fmt.Errorf("pipe write failed: %w", err)
	}
	return n, nil
}

func (o *Oto) Drain() error {
	if o.player == nil {
		return nil
	}
	for o.player.IsPlaying() && o.player.BufferedSize() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Cancel drops the player buffer by replacing the player
func (o *Oto) Cancel() {
	if o.player == nil {
		return
	}
	o.closePlayer()
	o.newPlayer()
}

func (o *Oto) Pause() error {
	if o.player != nil {
		o.player.Pause()
	}
	return nil
}

// Close releases the player and suspends the shared context
func (o *Oto) Close() error {
	o.closePlayer()
	if o.ctx != nil {
		if err := o.ctx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
		o.ctx = nil
	}
	return nil
}

// Volume returns the player volume in percent
func (o *Oto) Volume() (int, error) {
	return int(o.volume*100 + 0.5), nil
}

// SetVolume sets the player volume (0-100)
func (o *Oto) SetVolume(percent int) error {
	percent = max(0, min(100, percent))
	o.volume = float64(percent) / 100
	if o.player != nil {
		o.player.SetVolume(o.volume)
	}
	return nil
}
