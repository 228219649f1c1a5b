// ABOUTME: Tests for PCM processing stages
// ABOUTME: Covers conversion, resampling, volume and mixing
package pcm

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

func s16(samples ...int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

func readS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestSampleRoundTrip(t *testing.T) {
	formats := []audio.SampleFormat{
		audio.SampleFormatS16,
		audio.SampleFormatS24P32,
		audio.SampleFormatS32,
		audio.SampleFormatFloat,
	}
	input := []int16{0, 1, -1, 12345, -12345, math.MaxInt16, math.MinInt16}

	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			decoded, err := DecodeSamples(nil, s16(input...), audio.SampleFormatS16)
			if err != nil {
				t.Fatal(err)
			}
			encoded, err := EncodeSamples(nil, decoded, f)
			if err != nil {
				t.Fatal(err)
			}
			back, err := DecodeSamples(nil, encoded, f)
			if err != nil {
				t.Fatal(err)
			}
			out, _ := EncodeSamples(nil, back, audio.SampleFormatS16)
			for i, s := range readS16(out) {
				if s != input[i] {
					t.Errorf("sample %d: %d -> %d", i, input[i], s)
				}
			}
		})
	}
}

func TestDecodeDSDUnsupported(t *testing.T) {
	_, err := DecodeSamples(nil, []byte{0x69}, audio.SampleFormatDSD)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestConvertChannels(t *testing.T) {
	tests := []struct {
		name      string
		in        []int32
		inCh, out int
		want      []int32
	}{
		{"mono to stereo", []int32{1, 2}, 1, 2, []int32{1, 1, 2, 2}},
		{"stereo to mono", []int32{2, 4, -6, 6}, 2, 1, []int32{3, 0}},
		{"quad to stereo", []int32{1, 2, 3, 4}, 4, 2, []int32{2, 3}},
		{"stereo to quad", []int32{5, 6}, 2, 4, []int32{5, 6, 5, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertChannels(nil, tt.in, tt.inCh, tt.out)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestConverterIdentity(t *testing.T) {
	f := audio.Format{SampleRate: 44100, Format: audio.SampleFormatS16, Channels: 2}
	c, err := NewConverter(f, f)
	if err != nil {
		t.Fatal(err)
	}
	src := s16(1, 2, 3, 4)
	out, err := c.Convert(src)
	if err != nil {
		t.Fatal(err)
	}
	if &out[0] != &src[0] {
		t.Error("identity conversion should return the input")
	}
}

func TestConverterFormatAndChannels(t *testing.T) {
	in := audio.Format{SampleRate: 44100, Format: audio.SampleFormatS16, Channels: 1}
	out := audio.Format{SampleRate: 44100, Format: audio.SampleFormatFloat, Channels: 2}
	c, err := NewConverter(in, out)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Convert(s16(16384, -16384))
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 4*4 {
		t.Fatalf("expected 4 float samples, got %d bytes", len(res))
	}
	want := []float32{0.5, 0.5, -0.5, -0.5}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(res[i*4:]))
		if got != w {
			t.Errorf("sample %d = %f, want %f", i, got, w)
		}
	}
}

func TestConverterResamples(t *testing.T) {
	in := audio.Format{SampleRate: 24000, Format: audio.SampleFormatS16, Channels: 2}
	out := audio.Format{SampleRate: 48000, Format: audio.SampleFormatS16, Channels: 2}
	c, err := NewConverter(in, out)
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.Convert(make([]byte, 2400*4))
	if err != nil {
		t.Fatal(err)
	}
	frames := len(res) / out.FrameSize()
	if frames < 4790 || frames > 4800 {
		t.Errorf("expected about 4800 frames, got %d", frames)
	}
}

func TestConverterRejectsDSD(t *testing.T) {
	in := audio.Format{SampleRate: 352800, Format: audio.SampleFormatDSD, Channels: 2}
	out := audio.Format{SampleRate: 44100, Format: audio.SampleFormatS16, Channels: 2}
	if _, err := NewConverter(in, out); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := NewConverter(in, in); err != nil {
		t.Errorf("DSD passthrough should be allowed: %v", err)
	}
}

func TestSoftwareVolumeCurve(t *testing.T) {
	if PercentToSoftwareVolume(100) != VolumeOne {
		t.Error("100% must be unity")
	}
	if PercentToSoftwareVolume(0) != 0 {
		t.Error("0% must be silence")
	}
	prev := 0
	for p := 1; p < 100; p++ {
		v := PercentToSoftwareVolume(p)
		if v < prev {
			t.Fatalf("curve not monotonic at %d%%", p)
		}
		prev = v
	}
	// (exp(2)-1) / (exp(4)-1) ~ 0.1192
	if v := PercentToSoftwareVolume(50); v != 122 {
		t.Errorf("expected 122 at 50%%, got %d", v)
	}
}

func TestVolumeApply(t *testing.T) {
	v := NewVolume()
	if err := v.Open(audio.SampleFormatS16); err != nil {
		t.Fatal(err)
	}

	src := s16(1000, -1000, 32767)
	if out := v.Apply(src); &out[0] != &src[0] {
		t.Error("unity volume should pass the buffer through")
	}

	v.SetVolume(VolumeOne / 2)
	got := readS16(v.Apply(src))
	want := []int16{500, -500, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	v.SetVolume(VolumeOne * 4)
	if got := readS16(v.Apply(src)); got[2] != math.MaxInt16 {
		t.Errorf("expected clipping, got %d", got[2])
	}

	v.SetVolume(0)
	for _, s := range readS16(v.Apply(src)) {
		if s != 0 {
			t.Fatal("expected silence")
		}
	}
}

func TestVolumeDSDPassthrough(t *testing.T) {
	v := NewVolume()
	if err := v.Open(audio.SampleFormatDSD); err != nil {
		t.Fatal(err)
	}
	v.SetVolume(VolumeOne / 3)
	src := []byte{0x12, 0x34}
	out := v.Apply(src)
	if out[0] != 0x12 || out[1] != 0x34 {
		t.Error("DSD data must not be scaled")
	}
}

func TestMix(t *testing.T) {
	dst := s16(1000, 1000)
	src := s16(3000, -1000)

	if err := Mix(dst, src, audio.SampleFormatS16, 0.5); err != nil {
		t.Fatal(err)
	}
	got := readS16(dst)
	if got[0] != 2000 || got[1] != 0 {
		t.Errorf("unexpected mix %v", got)
	}

	add := s16(30000)
	if err := Mix(add, s16(30000), audio.SampleFormatS16, -1); err != nil {
		t.Fatal(err)
	}
	if readS16(add)[0] != math.MaxInt16 {
		t.Error("expected clipping when adding")
	}

	if err := Mix([]byte{1}, []byte{2}, audio.SampleFormatDSD, 0.5); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
