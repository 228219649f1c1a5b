// ABOUTME: PCM format converter used by the decoder bridge and output filters
// ABOUTME: Converts sample format, channel layout and sample rate in one pass
package pcm

import (
	"fmt"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/resample"
)

// Converter turns PCM of one Format into another
type Converter struct {
	in  audio.Format
	out audio.Format

	resampler *resample.Resampler

	samples  []int32
	channels []int32
	buf      []byte
}

// NewConverter prepares a conversion from in to out
func NewConverter(in, out audio.Format) (*Converter, error) {
	if !in.IsValid() {
		return nil, fmt.Errorf("invalid input format %s", in)
	}
	if !out.IsValid() {
		return nil, fmt.Errorf("invalid output format %s", out)
	}
	if in == out {
		return &Converter{in: in, out: out}, nil
	}
	if in.Format == audio.SampleFormatDSD || out.Format == audio.SampleFormatDSD {
		return nil, fmt.Errorf("%w: cannot convert %s to %s", ErrUnsupportedFormat, in, out)
	}

	c := &Converter{in: in, out: out}
	if in.SampleRate != out.SampleRate {
		c.resampler = resample.New(in.SampleRate, out.SampleRate, out.Channels)
	}
	return c, nil
}

// InFormat returns the source format
func (c *Converter) InFormat() audio.Format {
	return c.in
}

// OutFormat returns the target format
func (c *Converter) OutFormat() audio.Format {
	return c.out
}

// Convert converts whole frames of src. The result is owned by the converter
// and valid until the next call; with identical formats src itself is
// returned.
func (c *Converter) Convert(src []byte) ([]byte, error) {
	if c.in == c.out {
		return src, nil
	}

	var err error
	c.samples, err = DecodeSamples(c.samples[:0], src, c.in.Format)
	if err != nil {
		return nil, err
	}

	samples := c.samples
	if c.in.Channels != c.out.Channels {
		c.channels = ConvertChannels(c.channels[:0], samples, c.in.Channels, c.out.Channels)
		samples = c.channels
	}

	if c.resampler != nil {
		samples = c.resampler.Resample(samples)
	}

	c.buf, err = EncodeSamples(c.buf[:0], samples, c.out.Format)
	if err != nil {
		return nil, err
	}
	return c.buf, nil
}

// Reset drops interpolation state, e.g. after a seek
func (c *Converter) Reset() {
	if c.resampler != nil {
		c.resampler.Reset()
	}
}

// ConvertChannels remaps interleaved frames from inCh to outCh channels.
// Mono is duplicated, a downmix to mono averages, a downmix to stereo averages
// the even and odd channels, anything else copies channel i from i mod inCh.
func ConvertChannels(dst, src []int32, inCh, outCh int) []int32 {
	frames := len(src) / inCh

	for f := 0; f < frames; f++ {
		frame := src[f*inCh : (f+1)*inCh]

		switch {
		case inCh == 1:
			for i := 0; i < outCh; i++ {
				dst = append(dst, frame[0])
			}
		case outCh == 1:
			var sum int64
			for _, s := range frame {
				sum += int64(s)
			}
			dst = append(dst, int32(sum/int64(inCh)))
		case outCh == 2:
			var left, right int64
			var nl, nr int64
			for i, s := range frame {
				if i%2 == 0 {
					left += int64(s)
					nl++
				} else {
					right += int64(s)
					nr++
				}
			}
			dst = append(dst, int32(left/nl), int32(right/nr))
		default:
			for i := 0; i < outCh; i++ {
				dst = append(dst, frame[i%inCh])
			}
		}
	}
	return dst
}
