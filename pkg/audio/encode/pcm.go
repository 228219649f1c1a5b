// ABOUTME: PCM audio encoder
// ABOUTME: Packs 16-bit or 24-bit samples into little-endian wire bytes
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format audio.Format
}

// PCMFormat returns the closest format the PCM encoder accepts
func PCMFormat(f audio.Format) audio.Format {
	switch f.Format {
	case audio.SampleFormatS16:
	case audio.SampleFormatS8:
		f.Format = audio.SampleFormatS16
	default:
		f.Format = audio.SampleFormatS24P32
	}
	return f
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.Format != audio.SampleFormatS16 && format.Format != audio.SampleFormatS24P32 {
		return nil, fmt.Errorf("unsupported sample format for PCM encoder: %s", format.Format)
	}
	return &PCMEncoder{format: format}, nil
}

func (e *PCMEncoder) Name() string         { return "pcm" }
func (e *PCMEncoder) Format() audio.Format { return e.format }

// BitDepth is the packed sample width on the wire
func (e *PCMEncoder) BitDepth() int {
	return e.format.Format.Bits()
}

// Encode converts PCM to packed bytes
func (e *PCMEncoder) Encode(pcm []byte) ([][]byte, error) {
	if e.format.Format == audio.SampleFormatS16 {
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("partial 16-bit sample")
		}
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return [][]byte{out}, nil
	}

	// 24-bit: 3 bytes per sample from the padded 32-bit container
	if len(pcm)%4 != 0 {
		return nil, fmt.Errorf("partial 24-bit sample")
	}
	n := len(pcm) / 4
	out := make([]byte, n*3)
	for i := 0; i < n; i++ {
		b := audio.SampleTo24Bit(int32(binary.LittleEndian.Uint32(pcm[i*4:])))
		copy(out[i*3:], b[:])
	}
	return [][]byte{out}, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
