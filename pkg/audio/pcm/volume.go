// ABOUTME: Software volume for PCM buffers
// ABOUTME: Integer volume scale where VolumeOne is unity gain; DSD is passed through
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

const (
	volumeBits = 10
	// VolumeOne is unity gain
	VolumeOne = 1 << volumeBits
)

// FloatToVolume converts a linear factor to the integer volume scale
func FloatToVolume(f float32) int {
	return int(math.Round(float64(f) * VolumeOne))
}

// PercentToSoftwareVolume maps a 0-100 mixer value onto an exponential curve
// so the lower half of the range stays usable
func PercentToSoftwareVolume(percent int) int {
	switch {
	case percent >= 100:
		return VolumeOne
	case percent <= 0:
		return 0
	}
	return FloatToVolume(float32((math.Exp(float64(percent)/25.0) - 1) / (54.5981500331 - 1)))
}

// Volume scales PCM by a fixed factor
type Volume struct {
	format audio.SampleFormat
	volume int
	buf    []byte
}

// NewVolume returns a filter at unity gain
func NewVolume() *Volume {
	return &Volume{volume: VolumeOne}
}

// Open prepares the filter for a sample format. DSD is accepted and left
// untouched: there is no meaningful way to scale 1-bit audio.
func (v *Volume) Open(f audio.SampleFormat) error {
	switch f {
	case audio.SampleFormatS8, audio.SampleFormatS16, audio.SampleFormatS24P32,
		audio.SampleFormatS32, audio.SampleFormatFloat, audio.SampleFormatDSD:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	v.format = f
	return nil
}

// SetVolume sets the factor on the VolumeOne scale
func (v *Volume) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	v.volume = volume
}

// Get returns the current factor
func (v *Volume) Get() int {
	return v.volume
}

// Apply returns src scaled by the volume. The result may alias src or an
// internal buffer that is reused by the next call.
func (v *Volume) Apply(src []byte) []byte {
	if v.volume == VolumeOne || v.format == audio.SampleFormatDSD {
		return src
	}

	if cap(v.buf) < len(src) {
		v.buf = make([]byte, len(src))
	}
	dst := v.buf[:len(src)]

	if v.volume == 0 {
		Silence(dst, v.format)
		return dst
	}

	vol := int64(v.volume)
	switch v.format {
	case audio.SampleFormatS8:
		for i, b := range src {
			dst[i] = byte(clamp(scaleInt(int64(int8(b)), vol), math.MinInt8, math.MaxInt8))
		}
	case audio.SampleFormatS16:
		for i := 0; i+1 < len(src); i += 2 {
			s := int64(int16(binary.LittleEndian.Uint16(src[i:])))
			binary.LittleEndian.PutUint16(dst[i:], uint16(clamp(scaleInt(s, vol), math.MinInt16, math.MaxInt16)))
		}
	case audio.SampleFormatS24P32:
		for i := 0; i+3 < len(src); i += 4 {
			s := int64(int32(binary.LittleEndian.Uint32(src[i:])))
			binary.LittleEndian.PutUint32(dst[i:], uint32(clamp(scaleInt(s, vol), audio.Min24Bit, audio.Max24Bit)))
		}
	case audio.SampleFormatS32:
		for i := 0; i+3 < len(src); i += 4 {
			s := int64(int32(binary.LittleEndian.Uint32(src[i:])))
			binary.LittleEndian.PutUint32(dst[i:], uint32(clamp(scaleInt(s, vol), math.MinInt32, math.MaxInt32)))
		}
	case audio.SampleFormatFloat:
		factor := float32(v.volume) / VolumeOne
		for i := 0; i+3 < len(src); i += 4 {
			s := math.Float32frombits(binary.LittleEndian.Uint32(src[i:]))
			binary.LittleEndian.PutUint32(dst[i:], math.Float32bits(s*factor))
		}
	}
	return dst
}

func scaleInt(s, vol int64) int64 {
	return (s*vol + VolumeOne/2) >> volumeBits
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
