// ABOUTME: Tests for song values
// ABOUTME: Covers song kinds, identity and durations
package song

import (
	"testing"
	"time"
)

func TestSongKind(t *testing.T) {
	tests := []struct {
		uri    string
		remote bool
		suffix string
	}{
		{"music/track.flac", false, "flac"},
		{"/abs/Path/Song.MP3", false, "mp3"},
		{"file:///srv/a.ogg", false, "ogg"},
		{"http://radio.example/stream.mp3?x=1", true, "mp3"},
		{"https://radio.example/live", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			s := New(tt.uri)
			if s.IsRemote() != tt.remote {
				t.Errorf("IsRemote = %v, want %v", s.IsRemote(), tt.remote)
			}
			if s.Suffix() != tt.suffix {
				t.Errorf("Suffix = %q, want %q", s.Suffix(), tt.suffix)
			}
		})
	}
}

func TestIsSame(t *testing.T) {
	a := New("a.flac")
	b := a.Clone()
	if !IsSame(a, b) {
		t.Error("clone should be the same song")
	}
	b.StartTime = time.Second
	if IsSame(a, b) {
		t.Error("different start time is a different song")
	}
	if !IsSame(nil, nil) || IsSame(a, nil) {
		t.Error("nil handling")
	}
}

func TestDurations(t *testing.T) {
	s := New("a.flac")
	if s.Duration() >= 0 {
		t.Error("expected unknown duration")
	}

	s.Tag.Duration = 3 * time.Minute
	s.StartTime = time.Minute
	if s.Duration() != 2*time.Minute {
		t.Errorf("unexpected duration %v", s.Duration())
	}

	s.EndTime = 90 * time.Second
	if s.RealDuration(3*time.Minute) != 30*time.Second {
		t.Errorf("unexpected real duration %v", s.RealDuration(3*time.Minute))
	}
	if s.RealDuration(-1) >= 0 {
		t.Error("unknown decoder duration stays unknown")
	}
}
