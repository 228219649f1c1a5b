// ABOUTME: Tests for audio types
// ABOUTME: Tests format arithmetic, parsing and sample conversion helpers
package audio

import (
	"testing"
	"time"
)

func TestFormatFrameSize(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		expected int
	}{
		{"cd", Format{44100, SampleFormatS16, 2}, 4},
		{"hires", Format{96000, SampleFormatS24P32, 2}, 8},
		{"float mono", Format{48000, SampleFormatFloat, 1}, 4},
		{"surround", Format{48000, SampleFormatS32, 6}, 24},
		{"undefined", Format{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.FrameSize(); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestFormatTimeConversions(t *testing.T) {
	f := Format{44100, SampleFormatS16, 2}

	if got := f.TimeToSize(time.Second); got != 44100*4 {
		t.Errorf("TimeToSize(1s) = %d, want %d", got, 44100*4)
	}
	if got := f.SizeToTime(44100 * 4); got != time.Second {
		t.Errorf("SizeToTime = %v, want 1s", got)
	}
	// partial frames do not count
	if got := f.SizeToTime(3); got != 0 {
		t.Errorf("SizeToTime(3) = %v, want 0", got)
	}
	if got := f.TimeToFrames(500 * time.Millisecond); got != 22050 {
		t.Errorf("TimeToFrames = %d, want 22050", got)
	}
	if got := f.FramesToTime(22050); got != 500*time.Millisecond {
		t.Errorf("FramesToTime = %v, want 500ms", got)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		mask    bool
		want    Format
		wantErr bool
	}{
		{"cd", "44100:16:2", false, Format{44100, SampleFormatS16, 2}, false},
		{"float", "48000:f:2", false, Format{48000, SampleFormatFloat, 2}, false},
		{"mask rate", "*:24:2", true, Format{0, SampleFormatS24P32, 2}, false},
		{"mask all", "*:*:*", true, Format{}, false},
		{"star without mask", "*:16:2", false, Format{}, true},
		{"bad bits", "44100:12:2", false, Format{}, true},
		{"too many channels", "44100:16:9", false, Format{}, true},
		{"missing field", "44100:16", false, Format{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input, tt.mask)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFormatApplyMask(t *testing.T) {
	in := Format{44100, SampleFormatS24P32, 2}
	mask := Format{SampleRate: 48000}

	out := in.ApplyMask(mask)
	want := Format{48000, SampleFormatS24P32, 2}
	if out != want {
		t.Errorf("expected %v, got %v", want, out)
	}
	if out.String() != "48000:24:2" {
		t.Errorf("unexpected string %q", out.String())
	}
	if !mask.IsMask() {
		t.Error("expected mask to be a mask")
	}
}

func TestSampleFromInt16(t *testing.T) {
	tests := []struct {
		name     string
		input    int16
		expected int32
	}{
		{"zero", 0, 0},
		{"positive", 100, 100 << 8},
		{"negative", -100, -100 << 8},
		{"min", -32768, -32768 << 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFromInt16(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
			if back := SampleToInt16(result); back != tt.input {
				t.Errorf("round trip: expected %d, got %d", tt.input, back)
			}
		})
	}
}

func TestSampleFrom24Bit(t *testing.T) {
	tests := []struct {
		name     string
		input    [3]byte
		expected int32
	}{
		{"positive", [3]byte{0x56, 0x34, 0x12}, 0x123456},
		{"negative", [3]byte{0x00, 0xFF, 0xFF}, -256},
		{"max positive", [3]byte{0xFF, 0xFF, 0x7F}, Max24Bit},
		{"max negative", [3]byte{0x00, 0x00, 0x80}, Min24Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SampleFrom24Bit(tt.input)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
			if packed := SampleTo24Bit(result); packed != tt.input {
				t.Errorf("repack: expected %v, got %v", tt.input, packed)
			}
		})
	}
}

func TestClamp24(t *testing.T) {
	if Clamp24(1<<30) != Max24Bit {
		t.Error("expected positive clamp")
	}
	if Clamp24(-1<<30) != Min24Bit {
		t.Error("expected negative clamp")
	}
	if Clamp24(42) != 42 {
		t.Error("expected passthrough")
	}
}
