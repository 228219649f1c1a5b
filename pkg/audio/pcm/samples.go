// ABOUTME: Sample codecs between raw PCM bytes and the int32 working scale
// ABOUTME: The working scale is signed 24 bit held in an int32
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// ErrUnsupportedFormat is returned for sample formats a stage cannot process
var ErrUnsupportedFormat = errors.New("unsupported sample format")

const floatScale = 1 << 23

// DecodeSamples appends the samples of src, scaled to 24 bit, to dst
func DecodeSamples(dst []int32, src []byte, f audio.SampleFormat) ([]int32, error) {
	switch f {
	case audio.SampleFormatS8:
		for _, b := range src {
			dst = append(dst, int32(int8(b))<<16)
		}
	case audio.SampleFormatS16:
		for i := 0; i+1 < len(src); i += 2 {
			dst = append(dst, audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(src[i:]))))
		}
	case audio.SampleFormatS24P32:
		for i := 0; i+3 < len(src); i += 4 {
			dst = append(dst, audio.Clamp24(int64(int32(binary.LittleEndian.Uint32(src[i:])))))
		}
	case audio.SampleFormatS32:
		for i := 0; i+3 < len(src); i += 4 {
			dst = append(dst, int32(binary.LittleEndian.Uint32(src[i:]))>>8)
		}
	case audio.SampleFormatFloat:
		for i := 0; i+3 < len(src); i += 4 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(src[i:]))
			dst = append(dst, audio.Clamp24(int64(math.Round(float64(v)*floatScale))))
		}
	default:
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return dst, nil
}

// EncodeSamples appends the 24 bit samples, rendered in format f, to dst
func EncodeSamples(dst []byte, samples []int32, f audio.SampleFormat) ([]byte, error) {
	switch f {
	case audio.SampleFormatS8:
		for _, s := range samples {
			dst = append(dst, byte(int8(s>>16)))
		}
	case audio.SampleFormatS16:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(audio.SampleToInt16(s)))
		}
	case audio.SampleFormatS24P32:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(s))
		}
	case audio.SampleFormatS32:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(s<<8))
		}
	case audio.SampleFormatFloat:
		for _, s := range samples {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(s)/floatScale))
		}
	default:
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return dst, nil
}

// Silence fills buf with the silent value of the format
func Silence(buf []byte, f audio.SampleFormat) {
	var pattern byte
	if f == audio.SampleFormatDSD {
		// DSD idle pattern
		pattern = 0x69
	}
	for i := range buf {
		buf[i] = pattern
	}
}
