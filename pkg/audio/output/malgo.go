// ABOUTME: Malgo-based audio output implementation with 24-bit support
// ABOUTME: Feeds the miniaudio data callback from a blocking byte ring buffer
package output

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/pcm"
)

var errClosed = errors.New("output closed")

// ringBuffer is a byte FIFO between Play and the device callback
type ringBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buffer   []byte
	readPos  int
	writePos int
	count    int
	closed   bool
}

func newRingBuffer(capacity int) *ringBuffer {
	rb := &ringBuffer{buffer: make([]byte, capacity)}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// write blocks until there is room for at least one frame and returns the
// number of bytes stored, always a multiple of frameSize
func (rb *ringBuffer) write(p []byte, frameSize int) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for !rb.closed && len(rb.buffer)-rb.count < frameSize {
		rb.cond.Wait()
	}
	if rb.closed {
		return 0, errClosed
	}

	n := min(len(p), len(rb.buffer)-rb.count)
	n -= n % frameSize
	for i := 0; i < n; {
		c := copy(rb.buffer[rb.writePos:], p[i:n])
		i += c
		rb.writePos = (rb.writePos + c) % len(rb.buffer)
	}
	rb.count += n
	return n, nil
}

// read fills p and pads an underrun with silence
func (rb *ringBuffer) read(p []byte, f audio.SampleFormat) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(p), rb.count)
	for i := 0; i < n; {
		c := copy(p[i:n], rb.buffer[rb.readPos:])
		i += c
		rb.readPos = (rb.readPos + c) % len(rb.buffer)
	}
	rb.count -= n
	pcm.Silence(p[n:], f)
	rb.cond.Broadcast()
	return n
}

func (rb *ringBuffer) buffered() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

func (rb *ringBuffer) clear() {
	rb.mu.Lock()
	rb.readPos, rb.writePos, rb.count = 0, 0, 0
	rb.cond.Broadcast()
	rb.mu.Unlock()
}

func (rb *ringBuffer) close() {
	rb.mu.Lock()
	rb.closed = true
	rb.cond.Broadcast()
	rb.mu.Unlock()
}

// Malgo plays through miniaudio. The context lives from Enable to Disable;
// the device from Open to Close.
type Malgo struct {
	bufferTime time.Duration

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	ring     *ringBuffer
	started  bool
}

// NewMalgo creates a new Malgo output; "buffer_time" sets the ring buffer
// length (default 500ms)
func NewMalgo(p Params) (*Malgo, error) {
	bt, err := p.Duration("buffer_time", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return &Malgo{bufferTime: bt}, nil
}

func (m *Malgo) Enable() error {
	if m.malgoCtx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.malgoCtx = ctx
	return nil
}

func (m *Malgo) Disable() {
	if m.malgoCtx == nil {
		return
	}
	if err := m.malgoCtx.Uninit(); err != nil {
		log.Warn().Err(err).Msg("malgo context uninit error")
	}
	m.malgoCtx.Free()
	m.malgoCtx = nil
}

// malgoFormat maps a sample format to one miniaudio plays natively
func malgoFormat(f audio.SampleFormat) (audio.SampleFormat, malgo.FormatType) {
	switch f {
	case audio.SampleFormatS16, audio.SampleFormatS8:
		return audio.SampleFormatS16, malgo.FormatS16
	case audio.SampleFormatFloat:
		return audio.SampleFormatFloat, malgo.FormatF32
	default:
		// 24-bit samples travel in the upper bits of a 32-bit word
		return audio.SampleFormatS32, malgo.FormatS32
	}
}

func (m *Malgo) Open(f audio.Format) (audio.Format, error) {
	if f.Format == audio.SampleFormatDSD {
		return f, fmt.Errorf("%w: %s", pcm.ErrUnsupportedFormat, f.Format)
	}
	if err := m.Enable(); err != nil {
		return f, err
	}

	var format malgo.FormatType
	f.Format, format = malgoFormat(f.Format)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	ring := newRingBuffer(max(f.TimeToSize(m.bufferTime), f.FrameSize()))
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			ring.read(pOutput, f.Format)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return f, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	m.device = device
	m.format = f
	m.ring = ring
	m.started = false
	log.Debug().Str("format", f.String()).Msg("malgo device opened")
	return f, nil
}

func (m *Malgo) Play(p []byte) (int, error) {
	if m.device == nil {
		return 0, fmt.Errorf("output not initialized")
	}
	n, err := m.ring.write(p, m.format.FrameSize())
	if err != nil {
		return n, err
	}
	// start once there is something to play so the first period is not silence
	if !m.started {
		if err := m.device.Start(); err != nil {
			return n, fmt.Errorf("failed to start device: %w", err)
		}
		m.started = true
	}
	return n, nil
}

func (m *Malgo) Drain() error {
	if m.device == nil || !m.started {
		return nil
	}
	for m.ring.buffered() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (m *Malgo) Cancel() {
	if m.ring != nil {
		m.ring.clear()
	}
}

func (m *Malgo) Pause() error {
	if m.device == nil || !m.started {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	m.started = false
	return nil
}

// Close stops and uninitializes the device; the context stays until Disable
func (m *Malgo) Close() error {
	if m.ring != nil {
		m.ring.close()
	}
	if m.device != nil {
		if m.started {
			if err := m.device.Stop(); err != nil {
				log.Warn().Err(err).Msg("malgo device stop error")
			}
		}
		m.device.Uninit()
		m.device = nil
	}
	m.started = false
	return nil
}
