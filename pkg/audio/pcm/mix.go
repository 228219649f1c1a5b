// ABOUTME: Mixing of two PCM buffers for cross-fading
// ABOUTME: Weighted blend, or plain addition for MixRamp overlaps
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// Mix blends src into dst in place: dst = dst*portion + src*(1-portion). A
// negative portion adds both signals unchanged. Only the common length is
// mixed.
func Mix(dst, src []byte, f audio.SampleFormat, portion float32) error {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}

	a, b := float64(portion), 1-float64(portion)
	if portion < 0 {
		a, b = 1, 1
	}

	switch f {
	case audio.SampleFormatS8:
		for i := 0; i < n; i++ {
			v := float64(int8(dst[i]))*a + float64(int8(src[i]))*b
			dst[i] = byte(clamp(int64(math.Round(v)), math.MinInt8, math.MaxInt8))
		}
	case audio.SampleFormatS16:
		for i := 0; i+1 < n; i += 2 {
			v := float64(int16(binary.LittleEndian.Uint16(dst[i:])))*a +
				float64(int16(binary.LittleEndian.Uint16(src[i:])))*b
			binary.LittleEndian.PutUint16(dst[i:], uint16(clamp(int64(math.Round(v)), math.MinInt16, math.MaxInt16)))
		}
	case audio.SampleFormatS24P32:
		for i := 0; i+3 < n; i += 4 {
			v := float64(int32(binary.LittleEndian.Uint32(dst[i:])))*a +
				float64(int32(binary.LittleEndian.Uint32(src[i:])))*b
			binary.LittleEndian.PutUint32(dst[i:], uint32(clamp(int64(math.Round(v)), audio.Min24Bit, audio.Max24Bit)))
		}
	case audio.SampleFormatS32:
		for i := 0; i+3 < n; i += 4 {
			v := float64(int32(binary.LittleEndian.Uint32(dst[i:])))*a +
				float64(int32(binary.LittleEndian.Uint32(src[i:])))*b
			binary.LittleEndian.PutUint32(dst[i:], uint32(clamp(int64(math.Round(v)), math.MinInt32, math.MaxInt32)))
		}
	case audio.SampleFormatFloat:
		for i := 0; i+3 < n; i += 4 {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(dst[i:])))*a +
				float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i:])))*b
			binary.LittleEndian.PutUint32(dst[i:], math.Float32bits(float32(v)))
		}
	default:
		return fmt.Errorf("%w: cannot mix %s", ErrUnsupportedFormat, f)
	}
	return nil
}
