// ABOUTME: Tests for tag values
// ABOUTME: Covers type parsing, merging, MixRamp values and maps
package tag

import (
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input string
		want  Type
		ok    bool
	}{
		{"ARTIST", Artist, true},
		{"title", Title, true},
		{"TRACKNUMBER", Track, true},
		{"Album Artist", AlbumArtist, true},
		{"REPLAYGAIN_TRACK_GAIN", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseType(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergePrefersAddedItems(t *testing.T) {
	base := New()
	base.Duration = 3 * time.Minute
	base.Add(Artist, "Song Artist")
	base.Add(Title, "Song Title")

	stream := New()
	stream.Add(Title, "Live Title")

	merged := Merge(base, stream)
	if merged.Get(Title) != "Live Title" {
		t.Errorf("expected stream title, got %q", merged.Get(Title))
	}
	if merged.Get(Artist) != "Song Artist" {
		t.Errorf("expected base artist, got %q", merged.Get(Artist))
	}
	if merged.Duration != 3*time.Minute {
		t.Errorf("expected base duration, got %v", merged.Duration)
	}
	if len(base.Items) != 2 || base.Get(Title) != "Song Title" {
		t.Error("merge must not modify its inputs")
	}
}

func TestMergeNil(t *testing.T) {
	a := New()
	a.Add(Name, "Radio")

	if got := Merge(nil, a); got.Get(Name) != "Radio" {
		t.Errorf("expected clone of add, got %v", got)
	}
	if got := Merge(a, nil); got.Get(Name) != "Radio" {
		t.Errorf("expected clone of base, got %v", got)
	}
	if Merge(nil, nil) != nil {
		t.Error("expected nil")
	}
}

func TestAddIgnoresBlank(t *testing.T) {
	tg := New()
	tg.Add(Genre, "   ")
	if !tg.IsEmpty() {
		t.Error("expected blank values to be dropped")
	}
}

func TestParseMixRamp(t *testing.T) {
	var m MixRamp
	if !ParseMixRamp("mixramp_start", "-20 0.5;-10 1.5", &m) {
		t.Fatal("expected MIXRAMP_START to be recognized")
	}
	if ParseMixRamp("ARTIST", "x", &m) {
		t.Error("unexpected match")
	}
	if m.Start != "-20 0.5;-10 1.5" || !m.IsDefined() {
		t.Errorf("unexpected mixramp %+v", m)
	}
}

func TestMapKeepsFirstValue(t *testing.T) {
	tg := New()
	tg.Add(Artist, "A")
	tg.Add(Artist, "B")
	tg.Add(Title, "T")

	m := tg.Map()
	if len(m) != 2 || m["Artist"] != "A" || m["Title"] != "T" {
		t.Errorf("unexpected map %v", m)
	}
	if (*Tag)(nil).Map() != nil {
		t.Error("nil tag should map to nil")
	}
}
