// ABOUTME: Audio type definitions
// ABOUTME: Defines sample formats, PCM audio formats and sample helpers
package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// MaxChannels is the largest channel count the pipeline carries
	MaxChannels = 8

	// MaxSampleRate bounds the sample rates accepted from decoders
	MaxSampleRate = 768000
)

// SampleFormat describes how one sample is laid out in memory
type SampleFormat uint8

const (
	SampleFormatUndefined SampleFormat = iota
	SampleFormatS8
	SampleFormatS16
	// SampleFormatS24P32 is signed 24 bit in the low bits of a 32 bit word
	SampleFormatS24P32
	SampleFormatS32
	// SampleFormatFloat is 32 bit float in the range -1.0 to 1.0
	SampleFormatFloat
	// SampleFormatDSD is 1-bit DSD, eight samples per byte
	SampleFormatDSD
)

// Size returns bytes per sample (for DSD, per group of eight samples)
func (f SampleFormat) Size() int {
	switch f {
	case SampleFormatS8, SampleFormatDSD:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS24P32, SampleFormatS32, SampleFormatFloat:
		return 4
	}
	return 0
}

// Bits returns the number of significant bits per sample
func (f SampleFormat) Bits() int {
	switch f {
	case SampleFormatS8:
		return 8
	case SampleFormatS16:
		return 16
	case SampleFormatS24P32:
		return 24
	case SampleFormatS32, SampleFormatFloat:
		return 32
	case SampleFormatDSD:
		return 1
	}
	return 0
}

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatS8:
		return "8"
	case SampleFormatS16:
		return "16"
	case SampleFormatS24P32:
		return "24"
	case SampleFormatS32:
		return "32"
	case SampleFormatFloat:
		return "f"
	case SampleFormatDSD:
		return "dsd"
	}
	return "?"
}

// ParseSampleFormat parses the notation used by String ("16", "24", "f", "dsd")
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "8":
		return SampleFormatS8, nil
	case "16":
		return SampleFormatS16, nil
	case "24":
		return SampleFormatS24P32, nil
	case "32":
		return SampleFormatS32, nil
	case "f":
		return SampleFormatFloat, nil
	case "dsd":
		return SampleFormatDSD, nil
	}
	return SampleFormatUndefined, fmt.Errorf("invalid sample format: %q", s)
}

// Format describes a PCM stream as it travels through the pipeline
type Format struct {
	SampleRate int
	Format     SampleFormat
	Channels   int
}

// IsDefined reports whether the format has been set at all
func (f Format) IsDefined() bool {
	return f.SampleRate != 0
}

// IsValid reports whether every field holds a usable value
func (f Format) IsValid() bool {
	return f.SampleRate > 0 && f.SampleRate <= MaxSampleRate &&
		f.Format != SampleFormatUndefined &&
		f.Channels > 0 && f.Channels <= MaxChannels
}

// IsMask reports whether the format is a configuration mask (fields may be zero meaning "any")
func (f Format) IsMask() bool {
	return f.SampleRate == 0 || f.Format == SampleFormatUndefined || f.Channels == 0
}

// ApplyMask replaces the fields of f with every non-zero field of mask
func (f Format) ApplyMask(mask Format) Format {
	if mask.SampleRate != 0 {
		f.SampleRate = mask.SampleRate
	}
	if mask.Format != SampleFormatUndefined {
		f.Format = mask.Format
	}
	if mask.Channels != 0 {
		f.Channels = mask.Channels
	}
	return f
}

// FrameSize returns the number of bytes of one frame (one sample per channel)
func (f Format) FrameSize() int {
	return f.Format.Size() * f.Channels
}

// TimeToSize converts a duration into a byte count, rounded down to whole frames
func (f Format) TimeToSize(d time.Duration) int {
	if d <= 0 || !f.IsDefined() {
		return 0
	}
	frames := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(frames) * f.FrameSize()
}

// SizeToTime converts a byte count into the duration it plays for
func (f Format) SizeToTime(n int) time.Duration {
	frameSize := f.FrameSize()
	if frameSize == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := int64(n / frameSize)
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// FramesToTime converts a frame count into a duration
func (f Format) FramesToTime(frames uint64) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames * uint64(time.Second) / uint64(f.SampleRate))
}

// TimeToFrames converts a duration into a frame count
func (f Format) TimeToFrames(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d) * uint64(f.SampleRate) / uint64(time.Second)
}

// String renders the format as "rate:bits:channels"
func (f Format) String() string {
	rate := "*"
	if f.SampleRate != 0 {
		rate = strconv.Itoa(f.SampleRate)
	}
	bits := "*"
	if f.Format != SampleFormatUndefined {
		bits = f.Format.String()
	}
	channels := "*"
	if f.Channels != 0 {
		channels = strconv.Itoa(f.Channels)
	}
	return rate + ":" + bits + ":" + channels
}

// ParseFormat parses "rate:bits:channels"; with mask set, "*" is accepted for any field
func ParseFormat(s string, mask bool) (Format, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Format{}, fmt.Errorf("invalid audio format %q: expected rate:bits:channels", s)
	}

	var f Format
	if parts[0] != "*" || !mask {
		rate, err := strconv.Atoi(parts[0])
		if err != nil || rate <= 0 || rate > MaxSampleRate {
			return Format{}, fmt.Errorf("invalid sample rate %q", parts[0])
		}
		f.SampleRate = rate
	}

	if parts[1] != "*" || !mask {
		sf, err := ParseSampleFormat(parts[1])
		if err != nil {
			return Format{}, err
		}
		f.Format = sf
	}

	if parts[2] != "*" || !mask {
		ch, err := strconv.Atoi(parts[2])
		if err != nil || ch <= 0 || ch > MaxChannels {
			return Format{}, fmt.Errorf("invalid channel count %q", parts[2])
		}
		f.Channels = ch
	}

	return f, nil
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	// Left-shift to position 16-bit value in upper bits
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// Clamp24 limits a wide sample to the 24-bit range
func Clamp24(v int64) int32 {
	if v > Max24Bit {
		return Max24Bit
	}
	if v < Min24Bit {
		return Min24Bit
	}
	return int32(v)
}
