// ABOUTME: Opus audio encoder
// ABOUTME: Buffers 16-bit PCM into 20 ms frames and encodes them with libopus
package encode

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// maximum size of one Opus packet
const opusMaxPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int
	pending   []int16
}

// OpusFormat returns the closest format libopus accepts
func OpusFormat(f audio.Format) audio.Format {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		f.SampleRate = 48000
	}
	if f.Channels > 2 {
		f.Channels = 2
	}
	if f.Channels < 1 {
		f.Channels = 2
	}
	f.Format = audio.SampleFormatS16
	return f
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.Format != audio.SampleFormatS16 {
		return nil, fmt.Errorf("opus encoder needs 16-bit input, got %s", format.Format)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder: encoder,
		format:  format,
		// 20 ms frames
		frameSize: format.SampleRate / 50,
	}, nil
}

func (e *OpusEncoder) Name() string         { return "opus" }
func (e *OpusEncoder) Format() audio.Format { return e.format }

// Encode buffers samples and returns one packet per complete frame
func (e *OpusEncoder) Encode(pcm []byte) ([][]byte, error) {
	for i := 0; i+1 < len(pcm); i += 2 {
		e.pending = append(e.pending, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}

	var packets [][]byte
	frame := e.frameSize * e.format.Channels
	for len(e.pending) >= frame {
		data := make([]byte, opusMaxPacket)
		n, err := e.encoder.Encode(e.pending[:frame], data)
		if err != nil {
			return packets, fmt.Errorf("opus encode error: %w", err)
		}
		packets = append(packets, data[:n])
		e.pending = e.pending[frame:]
	}
	// keep the remainder at the front of the buffer
	e.pending = append(e.pending[:0:0], e.pending...)
	return packets, nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	e.pending = nil
	return nil
}
