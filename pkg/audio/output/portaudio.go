//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Cross-platform audio output using PortAudio blocking writes
package output

import (
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// PortAudio output implementation
type PortAudio struct {
	framesPerBuffer int

	stream  *portaudio.Stream
	buffer  []int16
	fill    int
	started bool
}

// NewPortAudio creates a new PortAudio output; "frames_per_buffer" sets
// the blocking write size
func NewPortAudio(p Params) (Output, error) {
	n, err := p.Int("frames_per_buffer", 1024)
	if err != nil {
		return nil, err
	}
	return &PortAudio{framesPerBuffer: n}, nil
}

func (p *PortAudio) Enable() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return nil
}

func (p *PortAudio) Disable() {
	portaudio.Terminate()
}

// Open negotiates 16-bit samples, the only layout written here
func (p *PortAudio) Open(f audio.Format) (audio.Format, error) {
	f.Format = audio.SampleFormatS16
	p.buffer = make([]int16, p.framesPerBuffer*f.Channels)
	p.fill = 0

	stream, err := portaudio.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), p.framesPerBuffer, &p.buffer)
	if err != nil {
		return f, fmt.Errorf("failed to open stream: %w", err)
	}
	p.stream = stream
	p.started = false
	return f, nil
}

func (p *PortAudio) flush() error {
	if !p.started {
		if err := p.stream.Start(); err != nil {
			return fmt.Errorf("failed to start stream: %w", err)
		}
		p.started = true
	}
	p.fill = 0
	return p.stream.Write()
}

// Play collects samples until a full buffer can be written
func (p *PortAudio) Play(b []byte) (int, error) {
	if p.stream == nil {
		return 0, fmt.Errorf("output not opened")
	}

	n := 0
	for n+1 < len(b) && p.fill < len(p.buffer) {
		p.buffer[p.fill] = int16(binary.LittleEndian.Uint16(b[n:]))
		p.fill++
		n += 2
	}
	if p.fill == len(p.buffer) {
		if err := p.flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Drain pads the partial buffer with silence and writes it
func (p *PortAudio) Drain() error {
	if p.stream == nil || p.fill == 0 {
		return nil
	}
	clear(p.buffer[p.fill:])
	return p.flush()
}

func (p *PortAudio) Cancel() {
	p.fill = 0
}

func (p *PortAudio) Pause() error {
	if p.stream == nil || !p.started {
		return nil
	}
	p.started = false
	return p.stream.Stop()
}

func (p *PortAudio) Close() error {
	if p.stream == nil {
		return nil
	}
	if p.started {
		if err := p.stream.Stop(); err != nil {
			return err
		}
	}
	err := p.stream.Close()
	p.stream = nil
	p.started = false
	return err
}
